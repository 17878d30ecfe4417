package helper

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/downlinkdev/downlink/internal/codec"
)

// Client locates the helper daemon.
type Client struct {
	SocketPath string
}

// NewClient returns a Client for socketPath, or the default socket path
// when socketPath is empty.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = SocketPath
	}
	return &Client{SocketPath: socketPath}
}

// Dial opens a persistent connection to the helper.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to helper at %s: %w", c.SocketPath, err)
	}
	return newConn(nc), nil
}

// IsReachable returns true if the helper daemon is accepting connections.
func (c *Client) IsReachable() bool {
	conn, err := net.DialTimeout("unix", c.SocketPath, 2*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Conn is one helper connection. Calls are serialized.
type Conn struct {
	mu  sync.Mutex
	nc  net.Conn
	enc *codec.Encoder
	dec *codec.Decoder
	seq uint64
}

func newConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, enc: codec.NewEncoder(nc), dec: codec.NewDecoder(nc)}
}

// Call sends one request and waits for its response. The returned error
// is a transport failure; a failed operation is reported in the Response.
// After a transport failure the Conn must be closed.
func (c *Conn) Call(ctx context.Context, method string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	defer stop()

	c.seq++
	req := Request{Method: method, Seq: c.seq}
	if err := c.enc.Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		if cerr := contextErr(ctx, deadline); cerr != nil {
			return Response{}, cerr
		}
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Seq != req.Seq {
		return Response{}, fmt.Errorf("response out of sequence: got %d, want %d", resp.Seq, req.Seq)
	}
	return resp, nil
}

// contextErr reports the context's error, treating an expired deadline as
// expired even if the context's own timer has not fired yet.
func contextErr(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !deadline.IsZero() && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}
