package helper

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fakeBinary(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInstallerPlacesFiles(t *testing.T) {
	var cmds []string
	i := &Installer{
		HelperSource:  fakeBinary(t, "downlink-helper", "helper"),
		MonitorSource: fakeBinary(t, "downlink-monitor", "monitor"),
		Root:          t.TempDir(),
		Exec: func(argv ...string) error {
			cmds = append(cmds, strings.Join(argv, " "))
			return nil
		},
	}
	if err := i.Install(); err != nil {
		t.Fatalf("Install: %v", err)
	}

	data, err := os.ReadFile(i.path(helperInstallPath))
	if err != nil || string(data) != "helper" {
		t.Errorf("helper binary = %q, %v", data, err)
	}
	st, err := os.Stat(i.path(monitorInstallPath))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0755 {
		t.Errorf("monitor binary mode = %v", st.Mode().Perm())
	}
	if len(cmds) == 0 {
		t.Fatal("no service manager commands issued")
	}
	if last := cmds[len(cmds)-1]; !strings.Contains(last, "helper") {
		t.Errorf("last command %q should start the helper", last)
	}
	for _, c := range cmds {
		if strings.Contains(c, "monitor") {
			t.Errorf("install must not start the monitor: %q", c)
		}
	}

	// Idempotent.
	if err := i.Install(); err != nil {
		t.Fatalf("second Install: %v", err)
	}
}

func TestInstallerStopsAtFirstFailure(t *testing.T) {
	calls := 0
	i := &Installer{
		HelperSource:  filepath.Join(t.TempDir(), "missing"),
		MonitorSource: fakeBinary(t, "downlink-monitor", "monitor"),
		Root:          t.TempDir(),
		Exec:          func(...string) error { calls++; return nil },
	}
	err := i.Install()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "Install helper binary: ") {
		t.Errorf("error should name the failing step: %v", err)
	}
	if calls != 0 {
		t.Errorf("later steps ran after failure")
	}
	if _, err := os.Stat(i.path(monitorInstallPath)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("monitor binary installed after failure")
	}
}

func TestUninstallRemovesFiles(t *testing.T) {
	i := &Installer{
		HelperSource:  fakeBinary(t, "downlink-helper", "helper"),
		MonitorSource: fakeBinary(t, "downlink-monitor", "monitor"),
		Root:          t.TempDir(),
		Exec:          func(...string) error { return nil },
	}
	if err := i.Install(); err != nil {
		t.Fatal(err)
	}
	if err := i.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	for _, p := range []string{helperInstallPath, monitorInstallPath} {
		if _, err := os.Stat(i.path(p)); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s still present", p)
		}
	}
	// Nothing left to remove is fine.
	if err := i.Uninstall(); err != nil {
		t.Fatalf("second Uninstall: %v", err)
	}
}

func TestUninstallIgnoresStopFailures(t *testing.T) {
	i := &Installer{
		Root: t.TempDir(),
		Exec: func(argv ...string) error {
			if argv[0] == "systemctl" && argv[1] == "daemon-reload" {
				return nil
			}
			return errors.New("not loaded")
		},
	}
	if err := i.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
}
