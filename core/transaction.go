package core

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// undoRecord is a captured pre-image, taken at About-to-Modify time and
// replayed in reverse order on Abort-Trans.
type undoRecord struct {
	seg      *Segment
	offset   int
	size     int
	preimage []byte
}

// String renders an undoRecord for debug logging, the structured-logger
// equivalent of the original's dump_log_segment.
func (u undoRecord) String() string {
	return fmt.Sprintf("undo(segment=%s offset=%d size=%d)", u.seg.name, u.offset, u.size)
}

// Transaction tracks one in-flight transaction: the segments it holds
// locked and the undo log built up by About-to-Modify calls against them.
type Transaction struct {
	tid      Tid
	segments []*Segment
	undo     []undoRecord
}

// holds reports whether seg is one of the segments this transaction
// locked at Begin-Trans.
func (tx *Transaction) holds(seg *Segment) bool {
	for _, s := range tx.segments {
		if s == seg {
			return true
		}
	}
	return false
}

// txManager owns the set of live transactions and the tid namespace they
// draw from. One txManager backs one RvmHandle.
type txManager struct {
	mu   sync.Mutex
	txns map[Tid]*Transaction
	pool *tidPool
}

func newTxManager() *txManager {
	return &txManager{
		txns: make(map[Tid]*Transaction),
		pool: newTidPool(),
	}
}

// beginTrans locks segs for exclusive modification under a fresh tid. If
// any segment in segs is already locked by another live transaction, no
// lock is taken on any of them and noTid is returned: locking is all or
// nothing across the whole set.
func (m *txManager) beginTrans(segs []*Segment) Tid {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, seg := range segs {
		if seg.locked {
			return noTid
		}
	}

	for _, seg := range segs {
		seg.locked = true
	}

	tid := m.pool.acquire()
	m.txns[tid] = &Transaction{tid: tid, segments: append([]*Segment(nil), segs...)}
	return tid
}

// aboutToModify captures the pre-image of seg[offset:offset+size] into
// tid's undo log. The caller must already hold tid's segment lock on seg;
// violations are reported rather than silently accepted.
func (m *txManager) aboutToModify(logger log.Logger, tid Tid, seg *Segment, offset, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txns[tid]
	if !ok {
		return fmt.Errorf("%w: tid %d", ErrUnknownTransaction, tid)
	}
	if !tx.holds(seg) {
		return fmt.Errorf("%w: segment %q not locked by tid %d", ErrSegmentNotLocked, seg.name, tid)
	}
	if offset < 0 || size < 0 || int64(offset+size) > seg.size {
		return fmt.Errorf("%w: segment %q range [%d,%d)", ErrRangeOutOfBounds, seg.name, offset, offset+size)
	}

	preimage := make([]byte, size)
	copy(preimage, seg.image[offset:offset+size])
	rec := undoRecord{seg: seg, offset: offset, size: size, preimage: preimage}
	tx.undo = append(tx.undo, rec)
	level.Debug(logger).Log("msg", "captured pre-image", "record", rec.String())
	return nil
}

// commitTrans appends a post-image log record for every region tid
// touched, in the order About-to-Modify was called, then releases tid's
// locks and its tid. A failure partway through is crash-equivalent: it is
// logged, not returned, since the host has no useful recovery action
// beyond what the next Init/TruncateLog recovery pass already performs.
func (m *txManager) commitTrans(h *RvmHandle, tid Tid) {
	m.mu.Lock()
	tx, ok := m.txns[tid]
	if ok {
		delete(m.txns, tid)
	}
	m.mu.Unlock()

	if !ok {
		level.Error(h.logger).Log("msg", "commit of unknown transaction", "tid", tid)
		return
	}

	for _, rec := range tx.undo {
		payload := rec.seg.image[rec.offset : rec.offset+rec.size]
		encoded := encodeLogRecord(rec.seg.name, rec.offset, rec.size, payload)
		if err := appendLogRecord(h.logPath, encoded); err != nil {
			level.Error(h.logger).Log("msg", "append log record failed, treating as crash", "tid", tid, "err", err)
			break
		}
		h.metrics.recordsAppended.Inc()
		h.metrics.bytesAppended.Add(float64(len(payload)))
	}
	h.metrics.transactionsCommitted.Inc()

	m.releaseAndUnlock(tx)
}

// abortTrans undoes every About-to-Modify call tid made, in reverse
// order, then releases its locks and its tid. Each declared range gets back
// the bytes it held when it was first declared; bytes outside every declared
// range are left as they are. Nothing is written to the log, so a crash
// during abort leaves no record behind to replay.
func (m *txManager) abortTrans(h *RvmHandle, tid Tid) {
	m.mu.Lock()
	tx, ok := m.txns[tid]
	if ok {
		delete(m.txns, tid)
	}
	m.mu.Unlock()

	if !ok {
		level.Error(h.logger).Log("msg", "abort of unknown transaction", "tid", tid)
		return
	}

	for i := len(tx.undo) - 1; i >= 0; i-- {
		rec := tx.undo[i]
		copy(rec.seg.image[rec.offset:rec.offset+rec.size], rec.preimage)
	}
	h.metrics.transactionsAborted.Inc()

	m.releaseAndUnlock(tx)
}

func (m *txManager) releaseAndUnlock(tx *Transaction) {
	m.mu.Lock()
	for _, seg := range tx.segments {
		seg.locked = false
	}
	m.mu.Unlock()
	m.pool.release(tx.tid)
}
