package verbs

import (
	"context"
	"testing"
	"time"
)

func TestRegisterReadDeregister(t *testing.T) {
	tr := NewLoopback()
	data := []byte("hello world")
	r, err := tr.Register(data)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.Length != uint32(len(data)) {
		t.Fatalf("unexpected length: %d", r.Length)
	}

	dst := make([]byte, len(data))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := <-tr.ReadAsync(ctx, dst, r); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(dst) != "hello world" {
		t.Fatalf("unexpected bytes: %q", dst)
	}

	if err := tr.Deregister(r); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if err := tr.Deregister(r); err == nil {
		t.Fatalf("expected error deregistering twice")
	}
}

func TestReadUnknownRegion(t *testing.T) {
	tr := NewLoopback()
	ctx := context.Background()
	err := <-tr.ReadAsync(ctx, make([]byte, 4), Region{Addr: 0xdead, Length: 4})
	if err == nil {
		t.Fatalf("expected error reading unregistered region")
	}
}

func TestDialListen(t *testing.T) {
	tr := NewLoopback()
	ln, err := tr.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
		accepted <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := tr.Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
	if err := <-accepted; err != nil {
		t.Fatalf("accept: %v", err)
	}
}
