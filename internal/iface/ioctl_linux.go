//go:build linux

package iface

import (
	"golang.org/x/sys/unix"

	"github.com/downlinkdev/downlink/internal/fault"
)

// ioctlFlags opens a fresh datagram socket for every call so that
// concurrent callers never share a descriptor.
type ioctlFlags struct{}

func (ioctlFlags) GetFlags(name string) (Flags, error) {
	op := "get flags " + name
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fault.New(fault.NotFound, op, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, classify(op, err)
	}
	defer func() { _ = unix.Close(fd) }()

	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, classify(op, err)
	}
	return Flags(ifr.Uint16()), nil
}

func (ioctlFlags) SetFlags(name string, flags Flags) error {
	op := "set flags " + name
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return fault.New(fault.NotFound, op, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = unix.Close(fd) }()

	ifr.SetUint16(uint16(flags))
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return classify(op, err)
	}
	return nil
}
