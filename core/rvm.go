// Package core implements a recoverable virtual memory library: named
// byte-segment regions persisted to a backing directory, with
// transactional, undo-log-based modification and crash recovery through
// a write-ahead log.
package core

import (
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
)

// RvmHandle identifies one backing directory. It owns the segment table
// and transaction manager for everything mapped under that directory.
// Created by Init; lives until the process discards it. An RvmHandle is
// not safe for concurrent use by multiple goroutines, matching the
// single-threaded-per-process model described for the library.
type RvmHandle struct {
	dir     string
	logPath string

	logger  log.Logger
	reg     prometheus.Registerer
	metrics *engineMetrics

	segments *segmentTable
	tx       *txManager
}

// Init opens or creates directory as a backing store, running recovery
// over any log file left behind by a previous process before returning.
// A directory that cannot be created or opened is a fatal, reported
// error; everything else recovery might encounter (a missing log, a
// truncated tail, orphaned segment files) is handled internally.
func Init(directory string, opts ...Option) (*RvmHandle, error) {
	if err := ensureDirectory(directory); err != nil {
		return nil, err
	}

	h := &RvmHandle{
		dir:      directory,
		logPath:  logFilePath(directory),
		logger:   log.NewNopLogger(),
		reg:      prometheus.NewRegistry(),
		segments: newSegmentTable(),
		tx:       newTxManager(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics = newEngineMetrics(h.reg)

	if err := h.recover(); err != nil {
		return nil, fmt.Errorf("rvm: initial recovery: %w", err)
	}

	h.warnOrphanSegments()

	return h, nil
}

// warnOrphanSegments logs, but never fails on, segment files on disk that
// the in-memory table does not (yet) know about. They are ordinary: a
// segment that was written and synced in a previous process but not
// mapped again this run.
func (h *RvmHandle) warnOrphanSegments() {
	known := knownSegmentSet(h.segments.names())
	orphans, err := detectOrphanSegments(h.dir, known)
	if err != nil {
		level.Debug(h.logger).Log("msg", "could not scan for orphan segment files", "err", err)
		return
	}
	orphans.Each(func(name string) bool {
		level.Debug(h.logger).Log("msg", "segment file present on disk but not mapped", "segment", name)
		return false
	})
}

func validateSegmentName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidSegmentName, name)
	}
	return nil
}

// Map returns the in-memory image for segment name, creating it (in
// memory and, if absent, on disk) at size bytes if it does not already
// exist. Mapping an existing segment at a larger size grows its image,
// zero-filling the new bytes; at a smaller or equal size it is returned
// unchanged.
//
// The first time a name is mapped, Map runs recovery/truncation first so
// any log records targeting this or other segments are folded into their
// segment files before they are read, per the component contract.
func (h *RvmHandle) Map(name string, size int64) (*Segment, error) {
	if err := validateSegmentName(name); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidSegmentName)
	}

	if seg, ok := h.segments.get(name); ok {
		seg.growTo(size)
		return seg, nil
	}

	seg := newSegment(name, size)
	h.segments.set(name, seg)

	if err := h.recover(); err != nil {
		return nil, fmt.Errorf("rvm: recovery before map of %q: %w", name, err)
	}

	path := segmentFilePath(h.dir, name)
	data, ok, err := readSegmentFile(path)
	if err != nil {
		return nil, err
	}
	if ok {
		if int64(len(data)) > seg.size {
			seg.growTo(int64(len(data)))
		}
		copy(seg.image, data)
	} else if err := writeSegmentFile(path, seg.image); err != nil {
		return nil, err
	}

	return seg, nil
}

// Unmap forgets the in-memory image for addr. The on-disk segment file,
// if any, is untouched. Unmapping an address that is not a
// currently-mapped segment (already unmapped, or never mapped in this
// process) is a reported no-op.
func (h *RvmHandle) Unmap(addr *Segment) {
	seg, ok := h.segments.findByAddress(addr)
	if !ok {
		level.Debug(h.logger).Log("msg", "unmap of address not currently mapped")
		return
	}
	if seg.locked {
		level.Error(h.logger).Log("msg", "unmap of segment held by a live transaction", "segment", seg.name)
		return
	}
	h.segments.delete(seg.name)
}

// Destroy removes segment name from memory, if mapped, and unlinks its
// file on disk whether or not the segment was mapped. Absence of the file
// is not an error. A segment held by a live transaction is left in memory
// and on disk, and Destroy returns ErrSegmentLocked.
func (h *RvmHandle) Destroy(name string) error {
	if err := validateSegmentName(name); err != nil {
		return err
	}
	if seg, ok := h.segments.get(name); ok {
		if seg.locked {
			level.Error(h.logger).Log("msg", "destroy of segment held by a live transaction", "segment", name)
			return fmt.Errorf("%w: segment %q is locked", ErrSegmentLocked, name)
		}
		h.segments.delete(name)
	}
	return removeSegmentFile(segmentFilePath(h.dir, name))
}

// BeginTrans attempts to lock every segment named by addrs for exclusive
// modification. If any is already locked, or any address does not name a
// currently-mapped segment, no lock is taken on any of them and noTid
// (-1) is returned.
func (h *RvmHandle) BeginTrans(addrs ...*Segment) Tid {
	segs := make([]*Segment, 0, len(addrs))
	for _, addr := range addrs {
		seg, ok := h.segments.findByAddress(addr)
		if !ok {
			level.Debug(h.logger).Log("msg", "begin_trans referenced an address not currently mapped")
			h.metrics.beginConflicts.Inc()
			return noTid
		}
		segs = append(segs, seg)
	}

	tid := h.tx.beginTrans(segs)
	if tid == noTid {
		level.Debug(h.logger).Log("msg", "begin_trans refused, a segment is already locked")
		h.metrics.beginConflicts.Inc()
	}
	return tid
}

// AboutToModify records the pre-image of addr[offset:offset+size] in
// tid's undo log, ahead of the host actually writing to that range. It
// must be called before every modification a transaction intends to make
// durable or revert; recovery and abort both depend on having a pre- and
// post-image for exactly the ranges that were declared.
func (h *RvmHandle) AboutToModify(tid Tid, addr *Segment, offset, size int) error {
	seg, ok := h.segments.findByAddress(addr)
	if !ok {
		return fmt.Errorf("%w: about_to_modify on unmapped address", ErrSegmentNotFound)
	}
	return h.tx.aboutToModify(h.logger, tid, seg, offset, size)
}

// CommitTrans appends one post-image LogRecord per About-to-Modify call
// tid made, in call order, then releases tid's segment locks and the tid
// itself. A filesystem failure partway through is logged and treated as
// crash-equivalent: the truncated tail it leaves behind is discarded by
// the next recovery pass, so there is no separate error path for the
// host to act on.
func (h *RvmHandle) CommitTrans(tid Tid) {
	h.tx.commitTrans(h, tid)
}

// AbortTrans restores every pre-image tid captured, in reverse call
// order, then releases tid's segment locks and the tid itself. Nothing
// is written to the log.
func (h *RvmHandle) AbortTrans(tid Tid) {
	h.tx.abortTrans(h, tid)
}

// TruncateLog folds all outstanding log records into their segment
// files and removes the log file. It is safe to call at any time the
// handle is live (no locked segment is required) and is idempotent: a
// call with nothing pending is a no-op beyond the recovery scan itself.
func (h *RvmHandle) TruncateLog() error {
	return h.recover()
}
