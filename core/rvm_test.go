package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapCreatesSegmentFileZeroed(t *testing.T) {
	h, dir, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 16)
	require.NoError(t, err)
	require.Equal(t, int64(16), int64(len(seg.Bytes())))

	data, ok, err := readSegmentFile(segmentFilePath(dir, "alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, make([]byte, 16), data)
}

func TestMapExistingSegmentGrows(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)
	copy(seg.Bytes(), []byte("hi there"))

	grown, err := h.Map("alpha", 32)
	require.NoError(t, err)
	require.Same(t, seg, grown)
	require.Equal(t, int64(32), seg.size)
	require.Equal(t, []byte("hi there"), grown.Bytes()[:8])
}

func TestMapInvalidNameRejected(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	_, err := h.Map("", 8)
	require.ErrorIs(t, err, ErrInvalidSegmentName)

	_, err = h.Map("a/b", 8)
	require.ErrorIs(t, err, ErrInvalidSegmentName)
}

// TestCommitDurabilityAcrossProcesses verifies that a commit survives a
// simulated crash (discarding the handle without ever calling
// TruncateLog): a fresh Init against the same directory must recover the
// committed bytes into the segment file.
func TestCommitDurabilityAcrossProcesses(t *testing.T) {
	dir := t.TempDir()

	h1, err := Init(dir)
	require.NoError(t, err)

	seg, err := h1.Map("alpha", 16)
	require.NoError(t, err)

	tid := h1.BeginTrans(seg)
	require.NotEqual(t, noTid, tid)
	require.NoError(t, h1.AboutToModify(tid, seg, 0, 5))
	copy(seg.Bytes()[0:5], []byte("hello"))
	h1.CommitTrans(tid)

	// Simulate a crash: no TruncateLog, no graceful shutdown. A fresh
	// handle over the same directory must recover the committed write.
	h2, err := Init(dir)
	require.NoError(t, err)

	seg2, err := h2.Map("alpha", 16)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), seg2.Bytes()[0:5])

	_, err = os.Stat(logFilePath(dir))
	require.True(t, os.IsNotExist(err), "log file should have been removed by recovery")
}

func TestAbortRestoresPreimage(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 16)
	require.NoError(t, err)
	copy(seg.Bytes(), []byte("original bytes!!"))

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 8))
	copy(seg.Bytes()[0:8], []byte("mutated!"))
	h.AbortTrans(tid)

	require.Equal(t, []byte("original"), seg.Bytes()[0:8])
}

func TestAbortedWritesNeverReachLog(t *testing.T) {
	h, dir, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 16)
	require.NoError(t, err)

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 4))
	copy(seg.Bytes()[0:4], []byte("boom"))
	h.AbortTrans(tid)

	_, ok, err := readSegmentFile(logFilePath(dir))
	require.NoError(t, err)
	require.False(t, ok, "abort must not create a log file")
}

func TestBeginTransConflictReturnsNoTid(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	tid1 := h.BeginTrans(seg)
	require.NotEqual(t, noTid, tid1)

	tid2 := h.BeginTrans(seg)
	require.Equal(t, noTid, tid2)

	h.CommitTrans(tid1)

	tid3 := h.BeginTrans(seg)
	require.NotEqual(t, noTid, tid3)
	h.AbortTrans(tid3)
}

func TestBeginTransAllOrNothing(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	segA, err := h.Map("a", 8)
	require.NoError(t, err)
	segB, err := h.Map("b", 8)
	require.NoError(t, err)

	holder := h.BeginTrans(segB)
	require.NotEqual(t, noTid, holder)

	tid := h.BeginTrans(segA, segB)
	require.Equal(t, noTid, tid, "locking segA must not happen since segB is already locked")

	// segA must still be free: a fresh transaction over it alone succeeds.
	tidA := h.BeginTrans(segA)
	require.NotEqual(t, noTid, tidA)
	h.AbortTrans(tidA)

	h.AbortTrans(holder)
}

func TestTidsAreReusedFIFO(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	tid1 := h.BeginTrans(seg)
	h.CommitTrans(tid1)

	tid2 := h.BeginTrans(seg)
	require.Equal(t, tid1, tid2, "a released tid should be handed back out before a new one is minted")
	h.CommitTrans(tid2)
}

func TestTruncateLogIsIdempotent(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	require.NoError(t, h.TruncateLog())
	require.NoError(t, h.TruncateLog())
}

func TestTruncateLogFlushesPendingCommits(t *testing.T) {
	h, dir, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 3))
	copy(seg.Bytes()[0:3], []byte("abc"))
	h.CommitTrans(tid)

	require.NoError(t, h.TruncateLog())

	data, ok, err := readSegmentFile(segmentFilePath(dir, "alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("abc"), data[0:3])

	_, err = os.Stat(logFilePath(dir))
	require.True(t, os.IsNotExist(err))
}

// TestRecoverySkipsTruncatedTail covers a log record whose payload is cut
// short, as if the process died mid-write. Recovery must apply everything
// before the truncated record and silently drop the rest, without
// returning an error.
func TestRecoverySkipsTruncatedTail(t *testing.T) {
	dir := t.TempDir()

	h, err := Init(dir)
	require.NoError(t, err)
	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 4))
	copy(seg.Bytes()[0:4], []byte("good"))
	h.CommitTrans(tid)

	// Hand-append a record whose declared payload size exceeds what is
	// actually written, simulating a crash mid-append.
	truncated := encodeLogRecord("alpha", 4, 4, []byte("xx"))
	require.NoError(t, appendLogRecord(logFilePath(dir), truncated[:len(truncated)-2]))

	h2, err := Init(dir)
	require.NoError(t, err)
	seg2, err := h2.Map("alpha", 8)
	require.NoError(t, err)

	require.Equal(t, []byte("good"), seg2.Bytes()[0:4])
}

// TestRecoveryDropsRecordsForMissingSegmentFile models a record whose
// segment file was destroyed after the record was written: recovery must
// skip it rather than fail.
func TestRecoveryDropsRecordsForMissingSegmentFile(t *testing.T) {
	dir := t.TempDir()

	h, err := Init(dir)
	require.NoError(t, err)
	seg, err := h.Map("ghost", 8)
	require.NoError(t, err)

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 4))
	copy(seg.Bytes()[0:4], []byte("gone"))
	h.CommitTrans(tid)

	require.NoError(t, os.Remove(segmentFilePath(dir, "ghost")))

	h2, err := Init(dir)
	require.NoError(t, err)

	_, ok, err := readSegmentFile(segmentFilePath(dir, "ghost"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = os.Stat(logFilePath(dir))
	require.True(t, os.IsNotExist(err), "recovery still removes the log even if some records were dropped")

	_ = h2
}

func TestDestroyRemovesSegmentFileUnconditionally(t *testing.T) {
	h, dir, _ := SetupTempRvm(t)

	_, err := h.Map("alpha", 8)
	require.NoError(t, err)

	require.NoError(t, h.Destroy("alpha"))
	_, ok, err := readSegmentFile(segmentFilePath(dir, "alpha"))
	require.NoError(t, err)
	require.False(t, ok)

	// destroying a name with no file at all is not an error.
	require.NoError(t, h.Destroy("never-mapped"))
}

func TestUnmapLeavesFileUntouched(t *testing.T) {
	h, dir, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)
	copy(seg.Bytes(), []byte("12345678"))

	tid := h.BeginTrans(seg)
	require.NoError(t, h.AboutToModify(tid, seg, 0, 8))
	h.CommitTrans(tid)

	h.Unmap(seg)

	// Commit only appended to the log, and Unmap neither writes the image
	// nor folds the log, so the file still holds the zeros Map created it with.
	data, ok, err := readSegmentFile(segmentFilePath(dir, "alpha"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, make([]byte, 8), data)

	_, found := h.segments.get("alpha")
	require.False(t, found)
}

func TestAboutToModifyRejectsUnknownTid(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	err = h.AboutToModify(Tid(999), seg, 0, 4)
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestAboutToModifyRejectsOutOfBounds(t *testing.T) {
	h, _, _ := SetupTempRvm(t)

	seg, err := h.Map("alpha", 8)
	require.NoError(t, err)

	tid := h.BeginTrans(seg)
	err = h.AboutToModify(tid, seg, 4, 8)
	require.ErrorIs(t, err, ErrRangeOutOfBounds)
	h.AbortTrans(tid)
}
