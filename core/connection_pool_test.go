package core

import (
	"context"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T) (net.Listener, *[]net.Conn) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	conns := &[]net.Conn{}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			*conns = append(*conns, c)
		}
	}()
	return ln, conns
}

func closeServer(ln net.Listener, conns *[]net.Conn) {
	ln.Close()
	for _, c := range *conns {
		c.Close()
	}
}

func TestConnectionPoolGetReuse(t *testing.T) {
	ln, conns := startTestServer(t)
	defer closeServer(ln, conns)

	p := newConnectionPool(ln.Addr().String(), 2, noAuthProvider{}, testLogEntry())
	defer p.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c1, err := p.get(ctx, time.Second)
	if err != nil {
		t.Fatalf("get1: %v", err)
	}
	p.put(c1)
	if idle, _ := p.stats(); idle != 1 {
		t.Fatalf("expected 1 idle, got %d", idle)
	}

	c2, err := p.get(ctx, time.Second)
	if err != nil {
		t.Fatalf("get2: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected to reuse connection")
	}
	p.put(c2)
	if idle, _ := p.stats(); idle != 1 {
		t.Fatalf("expected 1 idle after reuse, got %d", idle)
	}
}

func TestConnectionPoolExhaustion(t *testing.T) {
	ln, conns := startTestServer(t)
	defer closeServer(ln, conns)

	p := newConnectionPool(ln.Addr().String(), 1, noAuthProvider{}, testLogEntry())
	defer p.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c1, err := p.get(ctx, time.Second)
	if err != nil {
		t.Fatalf("get1: %v", err)
	}
	if _, err := p.get(ctx, time.Second); err == nil {
		t.Fatalf("expected exhaustion error with maxConns=1 and one open connection")
	}
	p.put(c1)
	if _, err := p.get(ctx, time.Second); err != nil {
		t.Fatalf("expected reuse to succeed after put: %v", err)
	}
}
