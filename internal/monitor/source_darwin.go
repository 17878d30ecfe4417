//go:build darwin

package monitor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/downlinkdev/downlink/internal/iface"
)

// routeSource reads a raw AF_ROUTE socket. A reader goroutine forwards each
// read; Next drains whatever the reader has queued.
type routeSource struct {
	f    *os.File
	msgs chan []byte
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewSource opens the routing socket.
func NewSource() (Source, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("open routing socket: %w", err)
	}
	unix.CloseOnExec(fd)
	// Non-blocking so the runtime poller owns it and Close unblocks Read.
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("routing socket: %w", err)
	}
	s := &routeSource{
		f:    os.NewFile(uintptr(fd), "route"),
		msgs: make(chan []byte, 64),
	}
	go s.read()
	return s, nil
}

func (s *routeSource) read() {
	defer close(s.msgs)
	buf := make([]byte, os.Getpagesize())
	for {
		n, err := s.f.Read(buf)
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		s.msgs <- msg
	}
}

func (s *routeSource) Next(ctx context.Context) (Batch, error) {
	reads, open, err := receive(ctx, s.msgs)
	if err != nil {
		return nil, err
	}
	if len(reads) == 0 && !open {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, errors.New("routing socket closed")
	}
	var batch Batch
	for _, b := range reads {
		batch = append(batch, parseMessages(b)...)
	}
	return batch, nil
}

func (s *routeSource) Close() error {
	var err error
	s.once.Do(func() { err = s.f.Close() })
	return err
}

// ifmHeaderLen covers if_msghdr up to and including ifm_index.
const ifmHeaderLen = 14

// parseMessages decodes one read from the routing socket. A read may hold
// several messages, each prefixed by its length. RTM_IFINFO is decoded from
// the if_msghdr header because the kernel sends it without addresses, and
// route.ParseRIB skips interface messages that carry none.
func parseMessages(b []byte) Batch {
	var batch Batch
	for len(b) >= 4 {
		n := int(binary.NativeEndian.Uint16(b[0:2]))
		if n < 4 || n > len(b) {
			break
		}
		msg := b[:n]
		b = b[n:]
		if msg[2] != unix.RTM_VERSION || msg[3] != unix.RTM_IFINFO || n < ifmHeaderLen {
			batch = append(batch, Event{Kind: KindOther})
			continue
		}
		batch = append(batch, Event{
			Kind:  KindLink,
			Index: int(binary.NativeEndian.Uint16(msg[12:14])),
			Name:  interfaceName(msg),
			Flags: iface.Flags(binary.NativeEndian.Uint32(msg[8:12])),
		})
	}
	if len(batch) == 0 {
		return Batch{{Kind: KindOther}}
	}
	return batch
}

// interfaceName returns the name from the link address attached to an
// RTM_IFINFO message, or "" when the message carries no addresses.
func interfaceName(msg []byte) string {
	msgs, err := route.ParseRIB(route.RIBTypeRoute, msg)
	if err != nil {
		return ""
	}
	for _, m := range msgs {
		if im, ok := m.(*route.InterfaceMessage); ok {
			return im.Name
		}
	}
	return ""
}
