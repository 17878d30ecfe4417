// Package iface reads and toggles the administrative state of one network
// interface.
//
// Interface state is never cached: every call re-reads the kernel flags,
// because another process (or the kernel itself) may change them at any
// time. Only FlagUp is ever modified; all other bits are written back
// exactly as read.
package iface

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/downlinkdev/downlink/internal/fault"
)

// Flags is an interface flag word as returned by SIOCGIFFLAGS.
type Flags uint32

// FlagUp is the administratively-up bit.
const FlagUp Flags = unix.IFF_UP

var flagNames = []struct {
	bit  Flags
	name string
}{
	{unix.IFF_UP, "UP"},
	{unix.IFF_BROADCAST, "BROADCAST"},
	{unix.IFF_DEBUG, "DEBUG"},
	{unix.IFF_LOOPBACK, "LOOPBACK"},
	{unix.IFF_POINTOPOINT, "POINTOPOINT"},
	{unix.IFF_RUNNING, "RUNNING"},
	{unix.IFF_NOARP, "NOARP"},
	{unix.IFF_PROMISC, "PROMISC"},
	{unix.IFF_ALLMULTI, "ALLMULTI"},
	{unix.IFF_MULTICAST, "MULTICAST"},
}

// String renders the set bits by name, e.g. "UP|BROADCAST|MULTICAST".
func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, n := range flagNames {
		if f&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Up reports whether FlagUp is set.
func (f Flags) Up() bool { return f&FlagUp != 0 }

// FlagIO performs the raw flag reads and writes for one call each.
type FlagIO interface {
	GetFlags(name string) (Flags, error)
	SetFlags(name string, flags Flags) error
}

// Controller implements the read-modify-write operations on top of a FlagIO.
type Controller struct {
	io FlagIO
}

// New returns a Controller that talks to the kernel.
func New() *Controller {
	return &Controller{io: ioctlFlags{}}
}

// NewWithIO returns a Controller backed by io. Used by tests.
func NewWithIO(io FlagIO) *Controller {
	return &Controller{io: io}
}

// GetFlags returns the current flags of name.
func (c *Controller) GetFlags(name string) (Flags, error) {
	return c.io.GetFlags(name)
}

// SetFlags writes flags to name verbatim.
func (c *Controller) SetFlags(name string, flags Flags) error {
	return c.io.SetFlags(name, flags)
}

// BringDown clears FlagUp on name. It is a no-op when the interface is
// already down.
func (c *Controller) BringDown(name string) error {
	return c.setUp(name, false)
}

// BringUp sets FlagUp on name. It is a no-op when the interface is already
// up.
func (c *Controller) BringUp(name string) error {
	return c.setUp(name, true)
}

// IsUp reports whether name is administratively up.
func (c *Controller) IsUp(name string) (bool, error) {
	flags, err := c.io.GetFlags(name)
	if err != nil {
		return false, err
	}
	return flags.Up(), nil
}

func (c *Controller) setUp(name string, up bool) error {
	flags, err := c.io.GetFlags(name)
	if err != nil {
		return err
	}
	if flags.Up() == up {
		return nil
	}
	if up {
		flags |= FlagUp
	} else {
		flags &^= FlagUp
	}
	return c.io.SetFlags(name, flags)
}

// classify maps an errno from the ioctl path onto the fault taxonomy.
func classify(op string, err error) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ENXIO, unix.ENODEV:
			return fault.New(fault.NotFound, op, err)
		case unix.EPERM, unix.EACCES:
			return fault.New(fault.PermissionDenied, op, err)
		}
	}
	return fault.New(fault.IOFailure, op, err)
}
