package core

import (
	"fmt"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	logFileName   = "log_file"
	segmentPrefix = "seg-"
)

func logFilePath(dir string) string {
	return filepath.Join(dir, logFileName)
}

func segmentFilePath(dir, name string) string {
	return filepath.Join(dir, segmentPrefix+name)
}

// ensureDirectory creates dir (owner rwx) if it does not exist yet, then
// verifies it is actually openable. A backing directory that cannot be
// created or opened is a fatal condition for Init, not a recoverable one.
func ensureDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: mkdir %q: %v", ErrDirectoryUnusable, dir, err)
	}

	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("%w: %q still not openable: %v", ErrDirectoryUnusable, dir, err)
	}
	return f.Close()
}

// readSegmentFile returns the full contents of path, or ok=false if the
// file does not exist.
func readSegmentFile(path string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read segment file %q: %w", path, err)
	}
	return data, true, nil
}

// writeSegmentFile overwrite-creates path with data, flushed before close.
// Used the first time a segment is mapped and no file exists on disk yet.
func writeSegmentFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create segment file %q: %w", path, err)
	}
	defer f.Close() // nolint:errcheck

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write segment file %q: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync segment file %q: %w", path, err)
	}
	return nil
}

// patchSegmentFile writes data at offset (relative to file start) into an
// existing segment file. It fails if the file does not exist; callers use
// os.IsNotExist to distinguish "no file to patch" from a real I/O error,
// per the recovery engine's "skip this record" rule.
func patchSegmentFile(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close() // nolint:errcheck

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("patch segment file %q at %d: %w", path, offset, err)
	}
	return nil
}

// appendLogRecord appends data to the log file in a single write, creating
// it (and writing the header) if this is the first record since the last
// truncation. The single-process model means we never need to worry about
// interleaving with a concurrent writer.
func appendLogRecord(logPath string, data []byte) error {
	_, statErr := os.Stat(logPath)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file %q: %w", logPath, err)
	}
	defer f.Close() // nolint:errcheck

	if fresh {
		if err := writeLogHeader(f); err != nil {
			return fmt.Errorf("write log header %q: %w", logPath, err)
		}
	}

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append log file %q: %w", logPath, err)
	}
	return nil
}

// openLogForRead opens the log file for recovery, or ok=false if absent.
func openLogForRead(logPath string) (f *os.File, ok bool, err error) {
	f, err = os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open log file %q: %w", logPath, err)
	}
	return f, true, nil
}

// removeLogFile deletes the log file. Its absence is not an error: a
// recovery run that found no log file at all never calls this.
func removeLogFile(logPath string) error {
	if err := os.Remove(logPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove log file %q: %w", logPath, err)
	}
	return nil
}

// removeSegmentFile deletes a segment file, treating absence as non-fatal
// per Destroy's specified behavior.
func removeSegmentFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment file %q: %w", path, err)
	}
	return nil
}

// detectOrphanSegments lists seg-* files in dir that are not among known
// (segment names currently tracked in memory) and returns them as a set,
// by diffing the on-disk file names against the known-segment set. It
// never fails the caller: an error here is reported for logging only.
func detectOrphanSegments(dir string, known mapset.Set[string]) (mapset.Set[string], error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	onDisk := mapset.NewThreadUnsafeSet[string]()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) <= len(segmentPrefix) || name[:len(segmentPrefix)] != segmentPrefix {
			continue
		}
		onDisk.Add(name[len(segmentPrefix):])
	}

	return onDisk.Difference(known), nil
}
