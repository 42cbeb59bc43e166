// Package wire implements the framed binary message protocol of spec.md
// §6: fixed-width request/response variants over a reliable connection.
//
// The exact u8/u32/u64 field widths spec.md's wire table mandates cannot be
// produced by the pack's protobuf stack without a protoc codegen step this
// exercise has no way to run, so this package is the one place the module
// falls back to encoding/binary (stdlib) rather than a third-party codec;
// see DESIGN.md for the full justification.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// Variant tags a frame's payload shape (spec.md §6's table).
type Variant uint8

const (
	Init Variant = iota
	PutInline
	PutRemote
	DelInline
	DelRemote
	OverlayPredecessor
	OverlayUpdate
	OverlayJoin
	OverlayChord
	Lookup

	RespInit
	RespAck
	RespChord
	RespNetwork
	RespJoinReply
	RespLookup
)

// Nack enumerates RespAck's nack reasons when Success is false. spec.md §7's
// error taxonomy has several kinds that never leave the node that produced
// them (TornRead is detected and retried by the reader, AllocationFailure
// is reported as a plain failed ack); NotResponsible is the one kind whose
// recovery ("re-resolve and retry elsewhere") requires the client to be able
// to tell it apart from an ordinary failure, so it alone gets a wire code.
type Nack uint8

const (
	// NackNone is the zero value: either Success is true, or the failure
	// has no more specific reason than "the node rejected it".
	NackNone Nack = iota
	// NackNotResponsible: a write or delete arrived at a node that doesn't
	// own the key (spec.md §7: "write arrived at a node not owning the
	// key; rejected with nack; client re-resolves"). internal/client
	// reacts to this by re-resolving the owner and retrying once there.
	NackNotResponsible
)

// MemDescriptor is the (addr, size, rkey) triple spec.md's wire table uses
// for every remote-memory reference.
type MemDescriptor struct {
	Addr uint64
	Size uint32
	Rkey uint32
}

// NodeWire is the {ip[16], port[6], id} wire form of a node reference
// (spec.md §6's overlay.predecessor/overlay.update payloads).
type NodeWire struct {
	IP   [16]byte
	Port [6]byte
	ID   [16]byte // u128
}

// Frame is one decoded message: Variant plus its type-specific fields.
// Only the fields relevant to Variant are meaningful; internal/node and
// internal/client construct/inspect the ones they need.
type Frame struct {
	Variant Variant

	// put.inline / del.inline
	Key   []byte
	Value []byte

	// put.remote / del.remote
	Remote MemDescriptor

	// overlay.predecessor / overlay.update
	Index uint32
	Node  NodeWire

	// overlay.join
	Host string
	Port uint16

	// ack
	Success bool
	// Reason qualifies a failed ack (Success == false); zero value
	// (NackNone) when unused.
	Reason Nack

	// init / chord / network responses
	Info  MemDescriptor
	Table MemDescriptor

	// join.reply
	RangeStart uint64
	ID         uint64

	// lookup.resp: Success reports whether the key was found; Remote is
	// the combined key+value blob's descriptor (not yet copied locally —
	// the caller issues its own ReadAsync against it, the one place this
	// module's client performs a genuine one-sided read of table-owned
	// memory); Index carries the key's length so the caller can split the
	// blob into key/value; ID carries the blob's verify.Ptr content hash
	// so the caller can detect a torn read and retry.
}

// WriteFrame serializes f to w. Each variant's payload layout follows
// spec.md §6's table exactly; variants not listed there (the response
// variants and Lookup) use a layout symmetric with their request
// counterparts.
func WriteFrame(w io.Writer, f Frame) error {
	var buf []byte
	buf = append(buf, byte(f.Variant))

	switch f.Variant {
	case Init, OverlayChord:
		// empty payload

	case PutInline, DelInline:
		if len(f.Key) > 255 {
			return errors.Newf("wire: inline key too long: %d", len(f.Key))
		}
		buf = append(buf, byte(len(f.Key)))
		if f.Variant == PutInline {
			total := len(f.Key) + len(f.Value)
			if total > 255 {
				return errors.Newf("wire: inline payload too long: %d", total)
			}
			buf = append(buf, byte(total))
			buf = append(buf, f.Key...)
			buf = append(buf, f.Value...)
		} else {
			buf = append(buf, f.Key...)
		}

	case PutRemote, DelRemote:
		buf = appendUint32(buf, uint32(len(f.Key)))
		buf = appendMemDescriptor(buf, f.Remote)

	case OverlayPredecessor:
		buf = appendNode(buf, f.Node)

	case OverlayUpdate:
		buf = appendUint32(buf, f.Index)
		buf = appendNode(buf, f.Node)

	case OverlayJoin:
		if len(f.Host) > 255 {
			return errors.Newf("wire: host too long: %d", len(f.Host))
		}
		buf = append(buf, byte(len(f.Host)))
		buf = append(buf, f.Host...)
		buf = appendUint16(buf, f.Port)

	case Lookup:
		if len(f.Key) > 255 {
			return errors.Newf("wire: lookup key too long: %d", len(f.Key))
		}
		buf = append(buf, byte(len(f.Key)))
		buf = append(buf, f.Key...)

	case RespLookup:
		if f.Success {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = appendMemDescriptor(buf, f.Remote)
		buf = appendUint32(buf, f.Index)
		buf = appendUint64(buf, f.ID)

	case RespInit:
		buf = appendMemDescriptor(buf, f.Info)

	case RespAck:
		if f.Success {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, byte(f.Reason))

	case RespChord:
		buf = appendMemDescriptor(buf, f.Table)

	case RespNetwork:
		buf = append(buf, byte(f.Index))
		buf = appendMemDescriptor(buf, f.Table)

	case RespJoinReply:
		buf = appendUint64(buf, f.RangeStart)
		buf = appendUint64(buf, f.ID)

	default:
		return errors.Newf("wire: unknown variant %d", f.Variant)
	}

	length := uint32(len(buf))
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, length)
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "wire: write frame header")
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "wire: write frame body")
	}
	return nil
}

// ReadFrame reads and decodes one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, errors.Wrap(err, "wire: read frame header")
	}
	length := binary.LittleEndian.Uint32(header[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, errors.Wrap(err, "wire: read frame body")
	}
	return decodeFrame(body)
}

func decodeFrame(body []byte) (Frame, error) {
	if len(body) < 1 {
		return Frame{}, errors.New("wire: empty frame")
	}
	f := Frame{Variant: Variant(body[0])}
	rest := body[1:]

	switch f.Variant {
	case Init, OverlayChord:
		return f, nil

	case PutInline:
		if len(rest) < 2 {
			return f, errors.New("wire: truncated put.inline")
		}
		keySize, size := int(rest[0]), int(rest[1])
		rest = rest[2:]
		if len(rest) < size || keySize > size {
			return f, errors.New("wire: truncated put.inline payload")
		}
		f.Key = append([]byte(nil), rest[:keySize]...)
		f.Value = append([]byte(nil), rest[keySize:size]...)
		return f, nil

	case DelInline:
		if len(rest) < 1 {
			return f, errors.New("wire: truncated del.inline")
		}
		size := int(rest[0])
		rest = rest[1:]
		if len(rest) < size {
			return f, errors.New("wire: truncated del.inline key")
		}
		f.Key = append([]byte(nil), rest[:size]...)
		return f, nil

	case PutRemote, DelRemote:
		var err error
		var keySize uint32
		keySize, rest, err = takeUint32(rest)
		if err != nil {
			return f, err
		}
		f.Remote, _, err = takeMemDescriptor(rest)
		if err != nil {
			return f, err
		}
		f.Key = make([]byte, keySize) // placeholder length; bytes arrive via remote read
		return f, nil

	case OverlayPredecessor:
		node, _, err := takeNode(rest)
		f.Node = node
		return f, err

	case OverlayUpdate:
		idx, rest2, err := takeUint32(rest)
		if err != nil {
			return f, err
		}
		node, _, err := takeNode(rest2)
		f.Index, f.Node = idx, node
		return f, err

	case OverlayJoin:
		if len(rest) < 1 {
			return f, errors.New("wire: truncated overlay.join")
		}
		hostLen := int(rest[0])
		rest = rest[1:]
		if len(rest) < hostLen+2 {
			return f, errors.New("wire: truncated overlay.join payload")
		}
		f.Host = string(rest[:hostLen])
		f.Port = binary.LittleEndian.Uint16(rest[hostLen : hostLen+2])
		return f, nil

	case Lookup:
		if len(rest) < 1 {
			return f, errors.New("wire: truncated lookup")
		}
		size := int(rest[0])
		rest = rest[1:]
		if len(rest) < size {
			return f, errors.New("wire: truncated lookup key")
		}
		f.Key = append([]byte(nil), rest[:size]...)
		return f, nil

	case RespLookup:
		if len(rest) < 1 {
			return f, errors.New("wire: truncated lookup response")
		}
		f.Success = rest[0] != 0
		remote, rest2, err := takeMemDescriptor(rest[1:])
		if err != nil {
			return f, err
		}
		f.Remote = remote
		idx, rest3, err := takeUint32(rest2)
		if err != nil {
			return f, err
		}
		f.Index = idx
		hash, _, err := takeUint64(rest3)
		f.ID = hash
		return f, err

	case RespInit:
		desc, _, err := takeMemDescriptor(rest)
		f.Info = desc
		return f, err

	case RespAck:
		if len(rest) < 2 {
			return f, errors.New("wire: truncated ack")
		}
		f.Success = rest[0] != 0
		f.Reason = Nack(rest[1])
		return f, nil

	case RespChord:
		desc, _, err := takeMemDescriptor(rest)
		f.Table = desc
		return f, err

	case RespNetwork:
		if len(rest) < 1 {
			return f, errors.New("wire: truncated network response")
		}
		f.Index = uint32(rest[0])
		desc, _, err := takeMemDescriptor(rest[1:])
		f.Table = desc
		return f, err

	case RespJoinReply:
		rangeStart, rest2, err := takeUint64(rest)
		if err != nil {
			return f, err
		}
		id, _, err := takeUint64(rest2)
		f.RangeStart, f.ID = rangeStart, id
		return f, err

	default:
		return f, errors.Newf("wire: unknown variant %d", f.Variant)
	}
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendMemDescriptor(buf []byte, m MemDescriptor) []byte {
	buf = appendUint64(buf, m.Addr)
	buf = appendUint32(buf, m.Size)
	buf = appendUint32(buf, m.Rkey)
	return buf
}

func appendNode(buf []byte, n NodeWire) []byte {
	buf = append(buf, n.IP[:]...)
	buf = append(buf, n.Port[:]...)
	buf = append(buf, n.ID[:]...)
	return buf
}

func takeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errors.New("wire: truncated u32")
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func takeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errors.New("wire: truncated u64")
	}
	return binary.LittleEndian.Uint64(b[:8]), b[8:], nil
}

func takeMemDescriptor(b []byte) (MemDescriptor, []byte, error) {
	addr, b, err := takeUint64(b)
	if err != nil {
		return MemDescriptor{}, nil, err
	}
	size, b, err := takeUint32(b)
	if err != nil {
		return MemDescriptor{}, nil, err
	}
	rkey, b, err := takeUint32(b)
	if err != nil {
		return MemDescriptor{}, nil, err
	}
	return MemDescriptor{Addr: addr, Size: size, Rkey: rkey}, b, nil
}

func takeNode(b []byte) (NodeWire, []byte, error) {
	if len(b) < 16+6+16 {
		return NodeWire{}, nil, errors.New("wire: truncated node")
	}
	var n NodeWire
	copy(n.IP[:], b[:16])
	copy(n.Port[:], b[16:22])
	copy(n.ID[:], b[22:38])
	return n, b[38:], nil
}
