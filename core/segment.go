package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/immutable"
	mapset "github.com/deckarep/golang-set/v2"
)

// knownSegmentSet builds the set of currently-mapped segment names, for
// diffing against what Init finds on disk.
func knownSegmentSet(names []string) mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](names...)
}

// Segment is the in-memory image of one mapped region. It is the value
// returned to the host by Map and is what About-to-Modify/BeginTrans take
// as their address argument.
type Segment struct {
	name   string
	size   int64
	image  []byte
	locked bool // held by an in-flight transaction
}

func newSegment(name string, size int64) *Segment {
	return &Segment{name: name, size: size, image: make([]byte, size)}
}

// growTo extends the image to at least n bytes, zero-filling the new
// region: mapping a segment at a larger size than its current image
// zero-extends it. A shrink request is a no-op: RVM never truncates a
// live image out from under the host.
func (s *Segment) growTo(n int64) {
	if n <= s.size {
		return
	}
	grown := make([]byte, n)
	copy(grown, s.image)
	s.image = grown
	s.size = n
}

// Bytes returns the current backing slice for the segment's image. The
// host is expected to read and write through this slice directly, the
// same as the original's raw void* address. Note that a subsequent Map
// call growing this same segment replaces the slice: a Bytes() result
// taken before a growing Map is stale afterwards, mirroring the
// realloc-invalidates-pointer behavior of the C original.
func (s *Segment) Bytes() []byte { return s.image }

// Name reports the segment name this Segment was mapped under.
func (s *Segment) Name() string { return s.name }

// String renders a Segment for debug logging, the structured-logger
// equivalent of the original's dump_data_segment.
func (s *Segment) String() string {
	return fmt.Sprintf("segment(name=%s size=%d locked=%t)", s.name, s.size, s.locked)
}

// segmentTable holds the set of currently-mapped segments, keyed by name.
// It wraps an immutable.SortedMap snapshot in an atomic.Value so readers
// (About-to-Modify, address-to-segment lookups) never block on the
// mutation path, the same load/store shape dreamsxin-wal's state.segments
// uses for its own append-only directory of active segments. RVM's single-
// host-thread-per-handle model means the concurrency isn't load-bearing
// here, but the shape is kept for consistency with the rest of the
// codebase's style.
type segmentTable struct {
	mu  sync.Mutex
	val atomic.Value // *immutable.SortedMap[string, *Segment]
}

func newSegmentTable() *segmentTable {
	t := &segmentTable{}
	t.val.Store(immutable.NewSortedMap[string, *Segment](nil))
	return t
}

func (t *segmentTable) snapshot() *immutable.SortedMap[string, *Segment] {
	return t.val.Load().(*immutable.SortedMap[string, *Segment])
}

// get returns the segment mapped under name, if any.
func (t *segmentTable) get(name string) (*Segment, bool) {
	return t.snapshot().Get(name)
}

// set installs or replaces the segment mapped under name.
func (t *segmentTable) set(name string, seg *Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.val.Store(t.snapshot().Set(name, seg))
}

// delete removes name from the table, if present.
func (t *segmentTable) delete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.val.Store(t.snapshot().Delete(name))
}

// names returns the set of currently-mapped segment names.
func (t *segmentTable) names() []string {
	snap := t.snapshot()
	out := make([]string, 0, snap.Len())
	itr := snap.Iterator()
	for !itr.Done() {
		name, _, _ := itr.Next()
		out = append(out, name)
	}
	return out
}

// findByAddress looks up the segment whose image backs addr, used by
// BeginTrans/About-to-Modify/Unmap which are handed back a *Segment
// pointer rather than a name. Since *Segment is itself the "address" in
// this Go rendition, this is a direct identity check, not a pointer-range
// scan the way the C original walks its segment table.
func (t *segmentTable) findByAddress(addr *Segment) (*Segment, bool) {
	if addr == nil {
		return nil, false
	}
	if seg, ok := t.get(addr.name); ok && seg == addr {
		return seg, true
	}
	return nil, false
}
