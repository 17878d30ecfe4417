//go:build darwin

package iface

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/downlinkdev/downlink/internal/fault"
)

// ifreqFlags mirrors struct ifreq with the ifru_flags member of the union.
type ifreqFlags struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	_     [14]byte
}

func newIfreq(name string) (*ifreqFlags, error) {
	if len(name) >= unix.IFNAMSIZ {
		return nil, errors.New("interface name too long")
	}
	var ifr ifreqFlags
	copy(ifr.Name[:], name)
	return &ifr, nil
}

func ioctl(fd int, req uint, ifr *ifreqFlags) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(ifr)))
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlFlags opens a fresh datagram socket for every call so that
// concurrent callers never share a descriptor.
type ioctlFlags struct{}

func (ioctlFlags) GetFlags(name string) (Flags, error) {
	op := "get flags " + name
	ifr, err := newIfreq(name)
	if err != nil {
		return 0, fault.New(fault.NotFound, op, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, classify(op, err)
	}
	defer func() { _ = unix.Close(fd) }()

	if err := ioctl(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, classify(op, err)
	}
	return Flags(ifr.Flags), nil
}

func (ioctlFlags) SetFlags(name string, flags Flags) error {
	op := "set flags " + name
	ifr, err := newIfreq(name)
	if err != nil {
		return fault.New(fault.NotFound, op, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = unix.Close(fd) }()

	ifr.Flags = uint16(flags)
	if err := ioctl(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return classify(op, err)
	}
	return nil
}
