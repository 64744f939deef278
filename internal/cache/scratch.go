package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const scratchBufferSize = 1 << 20

// ErrScratchClosed is returned when writing to a closed scratch file.
var ErrScratchClosed = errors.New("scratch file is closed")

// DatePartition returns the zero-padded YYYY/MM/DD directory for t.
func DatePartition(t time.Time) string {
	return filepath.Join(
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
	)
}

func (s *Store) scratchRoot() string {
	return filepath.Join(s.root, scratchDir)
}

// Scratch is an append-only temporary file owned by a single caller. It is
// named <uuid>.tmp under a date partition of the scratch directory.
type Scratch struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *bufio.Writer
	closed bool
	// release tells the store the file no longer belongs to a running call.
	release func()
}

// OpenScratch creates a new, uniquely named scratch file. The date
// directories are left in place when the file is removed. Clear keeps the
// file until Remove or RemoveScratch is called.
func (s *Store) OpenScratch() (*Scratch, error) {
	s.scratchMu.Lock()
	defer s.scratchMu.Unlock()
	dir := filepath.Join(s.scratchRoot(), DatePartition(s.now()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+".tmp")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	s.inUse[path] = struct{}{}
	return &Scratch{
		path:    path,
		file:    f,
		w:       bufio.NewWriterSize(f, scratchBufferSize),
		release: func() { s.releaseScratch(path) },
	}, nil
}

// Path returns the scratch file location.
func (sc *Scratch) Path() string {
	return sc.path
}

// Write appends p.
func (sc *Scratch) Write(p []byte) (int, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return 0, ErrScratchClosed
	}
	return sc.w.Write(p)
}

// Checkpoint writes fragment to a sibling file <uuid>.<idx>.ckpt. Checkpoints
// are not read back by the pipeline; they record progress of a run that stops
// before completion.
func (sc *Scratch) Checkpoint(idx int, fragment []byte) error {
	return os.WriteFile(sc.checkpointPath(idx), fragment, 0644)
}

func (sc *Scratch) checkpointPath(idx int) string {
	return fmt.Sprintf("%s.%d.ckpt", strings.TrimSuffix(sc.path, ".tmp"), idx)
}

// Close flushes buffered data and closes the file. Closing twice is a no-op.
func (sc *Scratch) Close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return nil
	}
	sc.closed = true
	flushErr := sc.w.Flush()
	closeErr := sc.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// Remove closes the file if needed and deletes it along with its checkpoints.
func (sc *Scratch) Remove() error {
	_ = sc.Close()
	err := removeScratch(sc.path)
	if sc.release != nil {
		sc.release()
	}
	return err
}

// ReadScratch returns the content of a closed scratch file.
func (s *Store) ReadScratch(path string) ([]byte, error) {
	if !s.inScratch(path) {
		return nil, fmt.Errorf("%q is not a scratch file", path)
	}
	return os.ReadFile(path)
}

// RemoveScratch deletes a scratch file and its checkpoints. A missing file is
// not an error.
func (s *Store) RemoveScratch(path string) error {
	if !s.inScratch(path) {
		return fmt.Errorf("%q is not a scratch file", path)
	}
	err := removeScratch(path)
	s.releaseScratch(path)
	return err
}

func (s *Store) releaseScratch(path string) {
	s.scratchMu.Lock()
	delete(s.inUse, path)
	s.scratchMu.Unlock()
}

// clearScratch deletes scratch files and checkpoints that are not in use,
// then the directories left empty. The scratch root itself stays.
func (s *Store) clearScratch() error {
	s.scratchMu.Lock()
	defer s.scratchMu.Unlock()
	var dirs []string
	err := filepath.WalkDir(s.scratchRoot(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if _, ok := s.inUse[scratchOwner(path)]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	// Deepest first; directories that still hold files fail and stay.
	for i := len(dirs) - 1; i > 0; i-- {
		_ = os.Remove(dirs[i])
	}
	return err
}

// scratchOwner maps a checkpoint <uuid>.<idx>.ckpt to its <uuid>.tmp.
func scratchOwner(path string) string {
	base, ok := strings.CutSuffix(path, ".ckpt")
	if !ok {
		return path
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		return base[:i] + ".tmp"
	}
	return path
}

func (s *Store) inScratch(path string) bool {
	rel, err := filepath.Rel(s.scratchRoot(), path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

func removeScratch(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	ckpts, err := filepath.Glob(strings.TrimSuffix(path, ".tmp") + ".*.ckpt")
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range ckpts {
		if err := os.Remove(c); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
