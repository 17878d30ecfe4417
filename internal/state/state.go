// Package state is the shared record of whether monitoring is enabled,
// visible to every local front-end process.
//
// The record is a small JSON file replaced atomically on every write. The
// writing process notifies its own observers synchronously; other processes
// learn about the change through a filesystem watch on the directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Status is the last known state of the monitored interface.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusActive  Status = "active"  // interface allowed up
	StatusBlocked Status = "blocked" // monitor enforcing down
)

// State is the shared record.
type State struct {
	MonitoringEnabled bool   `json:"monitoringEnabled"`
	LastKnownState    Status `json:"lastKnownState"`
}

// Defaults is what readers see before anything was written, or when storage
// is unavailable.
var Defaults = State{MonitoringEnabled: false, LastKnownState: StatusUnknown}

const fileName = "state.json"

// ErrUnavailable is returned by Set when storage could not be initialised.
var ErrUnavailable = errors.New("state storage unavailable")

// UnavailableError carries the reason storage could not be initialised. It
// matches ErrUnavailable with errors.Is.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.Err.Error() }

func (e *UnavailableError) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// Store reads, writes and watches the shared record.
type Store struct {
	dir  string
	path string
	// err is set when storage could not be initialised; the Store then
	// serves Defaults and refuses writes.
	err error

	mu        sync.Mutex
	cur       State
	observers map[uint64]func(State)
	nextID    uint64

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// DefaultDir returns $XDG_STATE_HOME/downlink, or ~/.local/state/downlink.
func DefaultDir() (string, error) {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "downlink"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "downlink"), nil
}

// Open returns a Store backed by dir, creating it if needed, and starts
// watching for writes by other processes.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch state dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch state dir: %w", err)
	}
	s := &Store{
		dir:       dir,
		path:      filepath.Join(dir, fileName),
		observers: make(map[uint64]func(State)),
		watcher:   w,
		done:      make(chan struct{}),
	}
	s.cur = s.read()
	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Unavailable returns a Store that serves Defaults and fails every write
// with err.
func Unavailable(err error) *Store {
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		ue = &UnavailableError{Err: err}
	}
	return &Store{err: ue, cur: Defaults, observers: make(map[uint64]func(State))}
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide Store in DefaultDir, opening it on first
// use. If that fails the returned Store is Unavailable.
func Default() *Store {
	defaultOnce.Do(func() {
		dir, err := DefaultDir()
		if err == nil {
			defaultStore, err = Open(dir)
		}
		if err != nil {
			defaultStore = Unavailable(err)
		}
	})
	return defaultStore
}

// Err reports why the Store is unavailable, or nil. A non-nil error is an
// *UnavailableError.
func (s *Store) Err() error { return s.err }

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the current record.
func (s *Store) Get() State {
	if s.err != nil {
		return Defaults
	}
	return s.read()
}

// Set replaces the record and notifies observers in this process before
// returning.
func (s *Store) Set(st State) error {
	if s.err != nil {
		return s.err
	}
	// Holding mu across the write keeps the watcher from reporting our own
	// write as a change.
	s.mu.Lock()
	if err := writeFile(s.path, st); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cur = st
	s.mu.Unlock()
	s.notify(st)
	return nil
}

// Subscribe registers fn to be called with every new record, whether
// written by this process or another. The returned function unregisters it.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Close stops the watch. Observers are no longer called afterwards.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

func (s *Store) notify(st State) {
	s.mu.Lock()
	fns := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *Store) watch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			s.reload()
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload re-reads the file and notifies observers if the record changed.
func (s *Store) reload() {
	st := s.read()
	s.mu.Lock()
	changed := st != s.cur
	s.cur = st
	s.mu.Unlock()
	if changed {
		s.notify(st)
	}
}

// read returns the stored record, or Defaults when there is none or it
// cannot be parsed.
func (s *Store) read() State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Defaults
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return Defaults
	}
	if st.LastKnownState == "" {
		st.LastKnownState = StatusUnknown
	}
	return st
}

// writeFile atomically replaces path: the record is written to a temporary
// file in the same directory, fsynced, and renamed into place.
func writeFile(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	f, err := os.CreateTemp(filepath.Dir(path), "."+fileName+".*")
	if err != nil {
		return fmt.Errorf("create temporary state file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync temporary state file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temporary state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename state file into place: %w", err)
	}
	return nil
}
