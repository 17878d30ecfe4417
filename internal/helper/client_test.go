package helper

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/downlinkdev/downlink/internal/codec"
)

func startMockHelper(t *testing.T, handler func(Request) (Response, bool)) string {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "helper.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer func() { _ = conn.Close() }()
				dec := codec.NewDecoder(conn)
				enc := codec.NewEncoder(conn)
				for {
					var req Request
					if dec.Decode(&req) != nil {
						return
					}
					resp, ok := handler(req)
					if !ok {
						// Hold the connection open without answering.
						time.Sleep(time.Second)
						return
					}
					if err := enc.Encode(resp); err != nil {
						return
					}
				}
			}()
		}
	}()
	return sock
}

func TestClientSequenceMismatch(t *testing.T) {
	sock := startMockHelper(t, func(req Request) (Response, bool) {
		return Response{Seq: req.Seq + 7, OK: true}, true
	})
	conn, err := (&Client{SocketPath: sock}).Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Call(context.Background(), MethodIsDaemonLoaded); err == nil {
		t.Fatal("expected out-of-sequence error")
	}
}

func TestClientContextDeadline(t *testing.T) {
	sock := startMockHelper(t, func(Request) (Response, bool) { return Response{}, false })
	conn, err := (&Client{SocketPath: sock}).Dial(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = conn.Call(ctx, MethodLoadDaemon)
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestClientSocketNotFound(t *testing.T) {
	c := &Client{SocketPath: "/nonexistent/helper.sock"}
	if _, err := c.Dial(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsReachable(t *testing.T) {
	// Non-existent socket → not reachable.
	c := &Client{SocketPath: "/nonexistent/helper.sock"}
	if c.IsReachable() {
		t.Error("expected not reachable")
	}

	sock := startMockHelper(t, func(req Request) (Response, bool) {
		return Response{Seq: req.Seq, OK: true}, true
	})
	c2 := &Client{SocketPath: sock}
	if !c2.IsReachable() {
		t.Error("expected reachable")
	}
}

func TestNewClientDefaultsSocketPath(t *testing.T) {
	if got := NewClient("").SocketPath; got != SocketPath {
		t.Errorf("NewClient(\"\").SocketPath = %q, want %q", got, SocketPath)
	}
	if got := NewClient("/tmp/other.sock").SocketPath; got != "/tmp/other.sock" {
		t.Errorf("SocketPath = %q", got)
	}
}
