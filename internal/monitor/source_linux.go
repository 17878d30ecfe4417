//go:build linux

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/downlinkdev/downlink/internal/iface"
)

// netlinkSource reads RTNLGRP_LINK notifications.
type netlinkSource struct {
	updates <-chan netlink.LinkUpdate
	done    chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

// NewSource subscribes to link notifications.
func NewSource() (Source, error) {
	ch := make(chan netlink.LinkUpdate, 64)
	done := make(chan struct{})
	s := &netlinkSource{updates: ch, done: done}
	err := netlink.LinkSubscribeWithOptions(ch, done, netlink.LinkSubscribeOptions{
		ErrorCallback:     s.setErr,
		ReceiveBufferSize: 1 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to link updates: %w", err)
	}
	return s, nil
}

func (s *netlinkSource) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *netlinkSource) Next(ctx context.Context) (Batch, error) {
	updates, open, err := receive(ctx, s.updates)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 && !open {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, errors.New("netlink subscription closed")
	}
	batch := make(Batch, 0, len(updates))
	for _, u := range updates {
		batch = append(batch, eventFromUpdate(u))
	}
	return batch, nil
}

func (s *netlinkSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func eventFromUpdate(u netlink.LinkUpdate) Event {
	ev := Event{
		Kind:  KindOther,
		Index: int(u.Index),
		Flags: iface.Flags(u.Flags),
	}
	if u.Header.Type == unix.RTM_NEWLINK {
		ev.Kind = KindLink
	}
	if u.Link != nil {
		ev.Name = u.Link.Attrs().Name
	}
	return ev
}
