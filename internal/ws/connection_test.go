package ws

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// A peer that never reads must not hold Send (and its write mutex) forever;
// the write deadline turns the stall into a timeout error.
func TestSendTimesOutOnStalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := &Connection{
		ConnID:       "c1",
		Conn:         server,
		WriteTimeout: 50 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- c.Send([]byte("hello")) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error writing to a peer that never reads")
		}
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			t.Fatalf("expected a timeout error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return within the write timeout")
	}

	// The mutex is free again: a subsequent write fails fast instead of
	// queueing behind the stalled one.
	start := time.Now()
	_ = c.Send([]byte("again"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("second Send blocked for %s after a stalled write", elapsed)
	}
}

func TestWritePingTimesOutOnStalledPeer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := &Connection{
		ConnID:       "c1",
		Conn:         server,
		WriteTimeout: 50 * time.Millisecond,
	}

	done := make(chan error, 1)
	go func() { done <- c.WritePing() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error pinging a peer that never reads")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WritePing did not return within the write timeout")
	}
}

func TestSendDeliversToReadingPeer(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := &Connection{
		ConnID:       "c1",
		Conn:         server,
		WriteTimeout: time.Second,
	}

	type read struct {
		data []byte
		op   ws.OpCode
		err  error
	}
	got := make(chan read, 1)
	go func() {
		data, op, err := wsutil.ReadServerData(client)
		got <- read{data, op, err}
	}()

	if err := c.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("read: %v", r.err)
		}
		if r.op != ws.OpText || string(r.data) != "hello" {
			t.Fatalf("unexpected frame: op=%v data=%q", r.op, r.data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}
}
