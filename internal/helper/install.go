package helper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Step is one named installer action.
type Step struct {
	Title string
	Run   func() error
}

// Installer performs the one-time privileged setup: it places the helper
// and monitor binaries, writes both service descriptors and registers the
// helper with the service manager. Must be run as root.
type Installer struct {
	// HelperSource and MonitorSource are the binaries to install.
	HelperSource  string
	MonitorSource string
	// Root prefixes every destination path. Empty in production.
	Root string
	// Exec runs a service manager command. Defaults to running it and
	// reporting combined output on failure.
	Exec func(argv ...string) error
}

func (i *Installer) path(p string) string {
	return filepath.Join(i.Root, p)
}

func (i *Installer) exec(argv ...string) error {
	if i.Exec != nil {
		return i.Exec(argv...)
	}
	out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// copyBinary installs src at dst (under Root) with mode 0755.
func (i *Installer) copyBinary(src, dst string) error {
	dst = i.path(dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Chmod(tmp, 0755); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	// Rename so a running copy of the old binary is not truncated.
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("install %s: %w", dst, err)
	}
	return nil
}

func (i *Installer) writeFile(p, content string) error {
	p = i.path(p)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (i *Installer) remove(p string) error {
	if err := os.Remove(i.path(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

// Install runs InstallSteps in order and stops at the first failure.
func (i *Installer) Install() error {
	return RunSteps(i.InstallSteps())
}

// Uninstall runs UninstallSteps in order and stops at the first failure.
func (i *Installer) Uninstall() error {
	return RunSteps(i.UninstallSteps())
}

// RunSteps runs steps in order and stops at the first failure.
func RunSteps(steps []Step) error {
	for _, s := range steps {
		if err := s.Run(); err != nil {
			return fmt.Errorf("%s: %w", s.Title, err)
		}
	}
	return nil
}
