package monitor

import (
	"context"

	"github.com/downlinkdev/downlink/internal/iface"
)

// Kind classifies a kernel routing message.
type Kind int

const (
	// KindOther covers address, route and every other message type.
	KindOther Kind = iota
	// KindLink is an interface-info message (RTM_NEWLINK, RTM_IFINFO).
	KindLink
)

func (k Kind) String() string {
	if k == KindLink {
		return "link"
	}
	return "other"
}

// Event is one decoded kernel message.
type Event struct {
	Kind  Kind
	Index int
	// Name is empty when the message does not carry one.
	Name  string
	Flags iface.Flags
}

// Batch is every message that was queued when a read completed, in arrival
// order.
type Batch []Event

// Source delivers kernel interface events.
type Source interface {
	// Next blocks until at least one message is available, then returns it
	// together with everything else already queued. A non-nil error other
	// than the context's means the transport is gone.
	Next(ctx context.Context) (Batch, error)
	Close() error
}

// receive blocks for the first value on ch and then takes whatever else is
// already buffered without blocking again. open is false once ch has been
// closed; values read before the close are still returned.
func receive[T any](ctx context.Context, ch <-chan T) (items []T, open bool, err error) {
	select {
	case <-ctx.Done():
		return nil, true, ctx.Err()
	case v, ok := <-ch:
		if !ok {
			return nil, false, nil
		}
		items = append(items, v)
	}
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return items, false, nil
			}
			items = append(items, v)
		default:
			return items, true, nil
		}
	}
}
