// Package lock provides the cross-process install lock. One lock file exists
// per (tool, version) under <root>/locks, guarded by flock(2) and stamped
// with the owner's pid for diagnostics and orphan reclaim.
package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/ZebulonRouseFrantzich/zvm/internal/config"
	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

const maxAcquireAttempts = 3

// Lock is an acquired install lock. Release it with defer.
type Lock struct {
	Tool    string
	Version string
	path    string
	file    *os.File
}

// Metadata is the content stamped into a lock file by its owner.
type Metadata struct {
	PID       int
	Timestamp time.Time
	Tool      string
	Version   string
}

// ProcessProbe reports whether a pid belongs to a running process.
type ProcessProbe func(ctx context.Context, pid int) (bool, error)

// GopsutilProbe checks process existence through gopsutil.
func GopsutilProbe(ctx context.Context, pid int) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid))
}

// Locker acquires install locks in one directory.
type Locker struct {
	dir    string
	probe  ProcessProbe
	logger config.Logger
}

// NewLocker returns a Locker for dir using gopsutil as the liveness probe.
func NewLocker(dir string, logger config.Logger) *Locker {
	return &Locker{dir: dir, probe: GopsutilProbe, logger: config.OrNop(logger)}
}

// WithProbe replaces the liveness probe.
func (l *Locker) WithProbe(p ProcessProbe) *Locker {
	l.probe = p
	return l
}

// Path returns the lock file path for (tool, version).
func (l *Locker) Path(tool, version string) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.lock", tool, version))
}

// Acquire takes the lock for (tool, version) without waiting. A held flock
// yields *errs.LockContentionError whatever pid the file records. A lock
// file left by a crashed process carries no flock and is reclaimed.
func (l *Locker) Acquire(ctx context.Context, tool, version string) (*Lock, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	path := l.Path(tool, version)

	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open lock file: %w", err)
		}

		err = unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if errors.Is(err, unix.EWOULDBLOCK) {
			// The kernel drops a flock when its owner exits, so a held lock
			// always has a live owner. A dead pid in the metadata means the
			// holder has just reclaimed an orphan and not stamped it yet.
			meta, _ := readMetadata(file)
			file.Close()
			return nil, &errs.LockContentionError{
				Tool:       tool,
				Version:    version,
				Path:       path,
				OwnerPID:   meta.PID,
				OwnerAlive: l.isAlive(ctx, meta.PID),
			}
		}
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}

		// A releasing owner unlinks the path before unlocking, so the inode
		// we locked may no longer be the one at path.
		if !sameInode(file, path) {
			file.Close()
			continue
		}

		if meta, err := readMetadata(file); err == nil && meta.PID > 0 && meta.PID != os.Getpid() {
			l.logger.Info("reclaiming orphaned install lock",
				"path", path, "previous_pid", meta.PID, "previous_alive", l.isAlive(ctx, meta.PID))
		}

		if err := writeMetadata(file, tool, version); err != nil {
			file.Close()
			return nil, err
		}

		l.logger.Debug("acquired install lock", "tool", tool, "version", version, "path", path)
		return &Lock{Tool: tool, Version: version, path: path, file: file}, nil
	}

	return nil, &errs.LockContentionError{Tool: tool, Version: version, Path: path}
}

// isAlive reports owner liveness for diagnostics. Unknown owners (no pid
// recorded yet, or a failed probe) count as alive.
func (l *Locker) isAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return true
	}
	alive, err := l.probe(ctx, pid)
	if err != nil {
		return true
	}
	return alive
}

// Release removes the lock file and drops the flock. It is safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	var removeErr error
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		removeErr = fmt.Errorf("remove lock file: %w", err)
	}
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if removeErr != nil {
		return removeErr
	}
	return closeErr
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func sameInode(file *os.File, path string) bool {
	held, err := file.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func writeMetadata(file *os.File, tool, version string) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	data := fmt.Sprintf("pid=%d\ntimestamp=%s\ntool=%s\nversion=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339), tool, version)
	if _, err := file.WriteString(data); err != nil {
		return fmt.Errorf("write lock data: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func readMetadata(r io.ReadSeeker) (Metadata, error) {
	var meta Metadata
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return meta, err
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			meta.PID, _ = strconv.Atoi(value)
		case "timestamp":
			meta.Timestamp, _ = time.Parse(time.RFC3339, value)
		case "tool":
			meta.Tool = value
		case "version":
			meta.Version = value
		}
	}
	return meta, scanner.Err()
}

// ReadMetadata reads the owner stamp of the lock file at path.
func ReadMetadata(path string) (Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer file.Close()
	return readMetadata(file)
}
