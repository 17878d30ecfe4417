//go:build darwin

package helper

import (
	"fmt"
	"os"
)

const (
	helperLabel        = "dev.downlink.helper"
	monitorLabel       = "dev.downlink.monitor"
	launchDaemonDir    = "/Library/LaunchDaemons"
	helperPlistPath    = launchDaemonDir + "/" + helperLabel + ".plist"
	monitorPlistPath   = launchDaemonDir + "/" + monitorLabel + ".plist"
	helperInstallPath  = "/Library/PrivilegedHelperTools/" + helperLabel
	monitorInstallPath = "/Library/PrivilegedHelperTools/" + monitorLabel
	logDir             = "/Library/Logs"
)

func loadArgv() []string   { return []string{"launchctl", "load", "-w", monitorPlistPath} }
func unloadArgv() []string { return []string{"launchctl", "unload", "-w", monitorPlistPath} }
func statusArgv() []string { return []string{"launchctl", "list", monitorLabel} }

type plistSpec struct {
	Label   string
	Binary  string
	LogPath string
}

func buildPlist(p plistSpec) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>%s</string>
	<key>ProgramArguments</key>
	<array>
		<string>%s</string>
	</array>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<true/>
	<key>StandardOutPath</key>
	<string>%s</string>
	<key>StandardErrorPath</key>
	<string>%s</string>
</dict>
</plist>
`, p.Label, p.Binary, p.LogPath, p.LogPath)
}

func helperPlistSpec() plistSpec {
	return plistSpec{Label: helperLabel, Binary: helperInstallPath, LogPath: logDir + "/downlink-helper.log"}
}

func monitorPlistSpec() plistSpec {
	return plistSpec{Label: monitorLabel, Binary: monitorInstallPath, LogPath: logDir + "/downlink-monitor.log"}
}

// InstallSteps returns the ordered install actions. The monitor plist is
// written but not loaded; loading it is the helper's load_daemon.
func (i *Installer) InstallSteps() []Step {
	return []Step{
		{"Install helper binary", func() error { return i.copyBinary(i.HelperSource, helperInstallPath) }},
		{"Install monitor binary", func() error { return i.copyBinary(i.MonitorSource, monitorInstallPath) }},
		{"Write monitor LaunchDaemon", func() error { return i.writeFile(monitorPlistPath, buildPlist(monitorPlistSpec())) }},
		{"Write helper LaunchDaemon", func() error { return i.writeFile(helperPlistPath, buildPlist(helperPlistSpec())) }},
		{"Load helper", func() error {
			_ = i.exec("launchctl", "unload", helperPlistPath) // may not be loaded
			return i.exec("launchctl", "load", "-w", helperPlistPath)
		}},
	}
}

// UninstallSteps reverses InstallSteps. Unloading jobs that are not loaded
// is not an error.
func (i *Installer) UninstallSteps() []Step {
	return []Step{
		{"Unload monitor", func() error { _ = i.exec("launchctl", "unload", "-w", monitorPlistPath); return nil }},
		{"Unload helper", func() error { _ = i.exec("launchctl", "unload", "-w", helperPlistPath); return nil }},
		{"Remove LaunchDaemons", func() error {
			if err := i.remove(monitorPlistPath); err != nil {
				return err
			}
			return i.remove(helperPlistPath)
		}},
		{"Remove binaries", func() error {
			if err := i.remove(monitorInstallPath); err != nil {
				return err
			}
			return i.remove(helperInstallPath)
		}},
	}
}

// IsInstalled checks if the helper LaunchDaemon is installed.
func IsInstalled() bool {
	_, err := os.Stat(helperPlistPath)
	return err == nil
}
