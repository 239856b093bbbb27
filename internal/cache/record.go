package cache

import (
	"sync"

	"github.com/parsascontentcorner/discordlitegateway/internal/snowflake"
)

// Key addresses a row. Guild is zero for global tables.
type Key struct {
	Guild snowflake.Snowflake
	ID    snowflake.Snowflake
}

// record is the mutable state of one entity. Every write advances version;
// the snapshot is rebuilt lazily from state under mu when the version (or the
// version of the record it depends on) moved since it was last built.
type record[T, S any] struct {
	mu       sync.Mutex
	state    T
	version  uint64
	released bool

	snap    S
	snapVer uint64
	snapDep uint64
	hasSnap bool
}

func newRecord[T, S any](state T) *record[T, S] {
	return &record[T, S]{state: state, version: 1}
}

// update applies fn to the state. It returns false without calling fn when
// the record was already released.
func (r *record[T, S]) update(fn func(*T)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return false
	}
	fn(&r.state)
	r.version++
	return true
}

// read calls fn with the current state under the lock.
func (r *record[T, S]) read(fn func(T)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

func (r *record[T, S]) currentVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *record[T, S]) snapshot(dep uint64, build func(T) S) S {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasSnap || r.snapVer != r.version || r.snapDep != dep {
		r.snap = build(r.state)
		r.snapVer = r.version
		r.snapDep = dep
		r.hasSnap = true
	}
	return r.snap
}

// release drops the state so the record cannot be written again. The last
// snapshot is kept for removal notifications.
func (r *record[T, S]) release(build func(T) S) S {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasSnap || r.snapVer != r.version {
		r.snap = build(r.state)
		r.snapVer = r.version
		r.hasSnap = true
	}
	var zero T
	r.state = zero
	r.released = true
	return r.snap
}

// table is a two-level map so a guild's rows can be dropped in one step.
type table[R any] struct {
	mu   sync.RWMutex
	rows map[snowflake.Snowflake]map[snowflake.Snowflake]R
}

func newTable[R any]() *table[R] {
	return &table[R]{rows: make(map[snowflake.Snowflake]map[snowflake.Snowflake]R)}
}

func (t *table[R]) get(k Key) (R, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.rows[k.Guild][k.ID]
	return r, ok
}

// getOrCreate returns the row at k, inserting create() when absent.
func (t *table[R]) getOrCreate(k Key, create func() R) (R, bool) {
	if r, ok := t.get(k); ok {
		return r, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	children, ok := t.rows[k.Guild]
	if !ok {
		children = make(map[snowflake.Snowflake]R)
		t.rows[k.Guild] = children
	}
	if r, ok := children[k.ID]; ok {
		return r, false
	}
	r := create()
	children[k.ID] = r
	return r, true
}

// put stores r at k and returns the row it replaced, if any.
func (t *table[R]) put(k Key, r R) (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	children, ok := t.rows[k.Guild]
	if !ok {
		children = make(map[snowflake.Snowflake]R)
		t.rows[k.Guild] = children
	}
	prev, existed := children[k.ID]
	children[k.ID] = r
	return prev, existed
}

func (t *table[R]) remove(k Key) (R, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	children, ok := t.rows[k.Guild]
	if !ok {
		var zero R
		return zero, false
	}
	r, ok := children[k.ID]
	if ok {
		delete(children, k.ID)
		if len(children) == 0 {
			delete(t.rows, k.Guild)
		}
	}
	return r, ok
}

func (t *table[R]) removeAllByParent(guild snowflake.Snowflake) []R {
	t.mu.Lock()
	children := t.rows[guild]
	delete(t.rows, guild)
	t.mu.Unlock()

	out := make([]R, 0, len(children))
	for _, r := range children {
		out = append(out, r)
	}
	return out
}

func (t *table[R]) byParent(guild snowflake.Snowflake) []R {
	t.mu.RLock()
	defer t.mu.RUnlock()

	children := t.rows[guild]
	out := make([]R, 0, len(children))
	for _, r := range children {
		out = append(out, r)
	}
	return out
}

func (t *table[R]) keys(guild snowflake.Snowflake) []snowflake.Snowflake {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]snowflake.Snowflake, 0, len(t.rows[guild]))
	for id := range t.rows[guild] {
		out = append(out, id)
	}
	return out
}

func (t *table[R]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, children := range t.rows {
		n += len(children)
	}
	return n
}

// clear empties the table and returns every row it held.
func (t *table[R]) clear() []R {
	t.mu.Lock()
	rows := t.rows
	t.rows = make(map[snowflake.Snowflake]map[snowflake.Snowflake]R)
	t.mu.Unlock()

	var out []R
	for _, children := range rows {
		for _, r := range children {
			out = append(out, r)
		}
	}
	return out
}
