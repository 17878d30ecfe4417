package main

import (
	"fmt"

	"github.com/downlinkdev/downlink/internal/version"
)

// VersionCmd prints version info.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(version.String("downlink"))
	return nil
}
