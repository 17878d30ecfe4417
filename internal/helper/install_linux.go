//go:build linux

package helper

import (
	"fmt"
	"os"
)

const (
	helperUnit         = "downlink-helper.service"
	monitorUnit        = "downlink-monitor.service"
	unitDir            = "/etc/systemd/system"
	helperInstallPath  = "/usr/local/libexec/downlink/downlink-helper"
	monitorInstallPath = "/usr/local/libexec/downlink/downlink-monitor"
	logDir             = "/var/log"
)

func loadArgv() []string   { return []string{"systemctl", "enable", "--now", monitorUnit} }
func unloadArgv() []string { return []string{"systemctl", "disable", "--now", monitorUnit} }

// statusArgv checks registration, not liveness: a unit waiting to restart
// is still enabled.
func statusArgv() []string { return []string{"systemctl", "is-enabled", "--quiet", monitorUnit} }

type unitSpec struct {
	Description string
	Binary      string
	LogPath     string
}

func buildSystemdUnit(u unitSpec) string {
	return fmt.Sprintf(`[Unit]
Description=%s
After=network.target

[Service]
Type=simple
ExecStart=%s
Restart=always
RestartSec=1
StandardOutput=append:%s
StandardError=append:%s

[Install]
WantedBy=multi-user.target
`, u.Description, u.Binary, u.LogPath, u.LogPath)
}

func helperUnitSpec() unitSpec {
	return unitSpec{
		Description: "downlink privileged helper",
		Binary:      helperInstallPath,
		LogPath:     logDir + "/downlink-helper.log",
	}
}

func monitorUnitSpec() unitSpec {
	return unitSpec{
		Description: "downlink interface monitor",
		Binary:      monitorInstallPath,
		LogPath:     logDir + "/downlink-monitor.log",
	}
}

// InstallSteps returns the ordered install actions. The monitor unit is
// written but not enabled; enabling it is the helper's load_daemon.
func (i *Installer) InstallSteps() []Step {
	return []Step{
		{"Install helper binary", func() error { return i.copyBinary(i.HelperSource, helperInstallPath) }},
		{"Install monitor binary", func() error { return i.copyBinary(i.MonitorSource, monitorInstallPath) }},
		{"Write monitor unit", func() error {
			return i.writeFile(unitDir+"/"+monitorUnit, buildSystemdUnit(monitorUnitSpec()))
		}},
		{"Write helper unit", func() error {
			return i.writeFile(unitDir+"/"+helperUnit, buildSystemdUnit(helperUnitSpec()))
		}},
		{"Reload systemd", func() error { return i.exec("systemctl", "daemon-reload") }},
		{"Start helper", func() error { return i.exec("systemctl", "enable", "--now", helperUnit) }},
	}
}

// UninstallSteps reverses InstallSteps. Stopping units that are not running
// is not an error.
func (i *Installer) UninstallSteps() []Step {
	return []Step{
		{"Stop monitor", func() error { _ = i.exec("systemctl", "disable", "--now", monitorUnit); return nil }},
		{"Stop helper", func() error { _ = i.exec("systemctl", "disable", "--now", helperUnit); return nil }},
		{"Remove units", func() error {
			if err := i.remove(unitDir + "/" + monitorUnit); err != nil {
				return err
			}
			return i.remove(unitDir + "/" + helperUnit)
		}},
		{"Reload systemd", func() error { return i.exec("systemctl", "daemon-reload") }},
		{"Remove binaries", func() error {
			if err := i.remove(monitorInstallPath); err != nil {
				return err
			}
			return i.remove(helperInstallPath)
		}},
	}
}

// IsInstalled checks if the helper systemd unit is installed.
func IsInstalled() bool {
	_, err := os.Stat(unitDir + "/" + helperUnit)
	return err == nil
}
