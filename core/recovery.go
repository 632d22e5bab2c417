package core

import (
	"os"

	"github.com/go-kit/log/level"
)

// recover replays the log file into segment files on disk, then removes
// the log file. It is the single procedure shared by Init (recovering
// from a prior crash before any segment is mapped) and TruncateLog
// (recovering on demand while the handle is live); both need identical
// replay-then-unlink semantics, so neither duplicates the other's logic.
//
// Records are applied in file order. A record whose segment has no file
// on disk yet is dropped (the segment was Destroyed after the record was
// written, or never synced to begin with) rather than treated as an
// error. The first short/truncated record stops replay silently: it is
// the expected shape of a crash that hit mid-append.
func (h *RvmHandle) recover() error {
	h.metrics.recoveries.Inc()

	f, ok, err := openLogForRead(h.logPath)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	defer f.Close() // nolint:errcheck

	headerOK, err := consumeLogHeader(f)
	if err != nil {
		return err
	}
	if !headerOK {
		level.Error(h.logger).Log("msg", "log file header invalid or truncated, discarding", "path", h.logPath)
		h.metrics.recordsDropped.Inc()
		return removeLogFile(h.logPath)
	}

	dec := newLogRecordDecoder(f)
	applied := 0
	for dec.next() {
		rec := dec.rec
		segPath := segmentFilePath(h.dir, rec.segName)

		if err := patchSegmentFile(segPath, int64(rec.offset), rec.payload); err != nil {
			if os.IsNotExist(err) {
				level.Debug(h.logger).Log("msg", "dropping log record for missing segment file",
					"segment", rec.segName, "path", segPath)
				h.metrics.recordsDropped.Inc()
				continue
			}
			return err
		}
		applied++
		h.metrics.recordsReplayed.Inc()
	}
	if dec.err != nil {
		return dec.err
	}

	level.Debug(h.logger).Log("msg", "recovery replay complete", "records_applied", applied)

	return removeLogFile(h.logPath)
}
