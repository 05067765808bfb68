package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"wager-engine/internal/model"
)

type memoryDoc struct {
	raw       []byte
	version   uint64
	expiresAt time.Time
}

type memoryRef struct {
	sessionID string
	version   uint64
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend with the same CAS semantics as
// RedisBackend: the mutator runs outside the lock and the write is rejected
// if any touched key changed meanwhile. It backs single-process tools and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	docs    map[string]*memoryDoc
	refs    map[string]*memoryRef
	active  map[string]map[string]struct{}
	version uint64
	now     func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:   make(map[string]*memoryDoc),
		refs:   make(map[string]*memoryRef),
		active: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Load returns the raw document.
func (b *MemoryBackend) Load(_ context.Context, mode model.Mode, id string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.doc(docKey(mode, id))
	if d == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), d.raw...), nil
}

// Create writes a new document if its key is free.
func (b *MemoryBackend) Create(_ context.Context, mode model.Mode, id, server string, c Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := docKey(mode, id)
	if b.doc(key) != nil {
		return ErrExists
	}
	if err := b.checkClaims(mode, id, c.Claims); err != nil {
		return err
	}
	b.apply(mode, id, key, c)
	b.index(activeKey(mode, ""), id, true)
	if server != "" {
		b.index(activeKey(mode, server), id, true)
	}
	return nil
}

// Swap applies fn to a snapshot and commits only if nothing it read changed.
func (b *MemoryBackend) Swap(_ context.Context, mode model.Mode, id string, fn func(cur []byte) (*Change, error)) error {
	key := docKey(mode, id)

	b.mu.Lock()
	d := b.doc(key)
	if d == nil {
		b.mu.Unlock()
		return ErrNotFound
	}
	snapshot := append([]byte(nil), d.raw...)
	seen, clock := d.version, b.version
	b.mu.Unlock()

	c, err := fn(snapshot)
	if err != nil || c == nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	d = b.doc(key)
	if d == nil || d.version != seen {
		return ErrStale
	}
	// Back-references are watched too: one changed after the snapshot
	// counts as a collision, as it would under WATCH.
	for _, uid := range touched(c) {
		if r := b.ref(userKey(mode, uid)); r != nil && r.version > clock {
			return ErrStale
		}
	}
	if err := b.checkClaims(mode, id, c.Claims); err != nil {
		return err
	}
	b.apply(mode, id, key, *c)
	return nil
}

// Participant returns the session a participant is bound to.
func (b *MemoryBackend) Participant(_ context.Context, mode model.Mode, userID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r := b.ref(userKey(mode, userID)); r != nil {
		return r.sessionID, nil
	}
	return "", nil
}

// Active lists the ids in an active index, sorted.
func (b *MemoryBackend) Active(_ context.Context, mode model.Mode, server string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.active[activeKey(mode, server)]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Deactivate removes id from the active indexes.
func (b *MemoryBackend) Deactivate(_ context.Context, mode model.Mode, id, server string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.index(activeKey(mode, ""), id, false)
	if server != "" {
		b.index(activeKey(mode, server), id, false)
	}
	return nil
}

// Expire drops a document immediately, as if its TTL had elapsed.
func (b *MemoryBackend) Expire(mode model.Mode, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, docKey(mode, id))
}

func (b *MemoryBackend) doc(key string) *memoryDoc {
	d, ok := b.docs[key]
	if !ok {
		return nil
	}
	if !d.expiresAt.IsZero() && !b.now().Before(d.expiresAt) {
		delete(b.docs, key)
		return nil
	}
	return d
}

func (b *MemoryBackend) ref(key string) *memoryRef {
	r, ok := b.refs[key]
	if !ok {
		return nil
	}
	if !r.expiresAt.IsZero() && !b.now().Before(r.expiresAt) {
		delete(b.refs, key)
		return nil
	}
	return r
}

func (b *MemoryBackend) checkClaims(mode model.Mode, id string, claims []string) error {
	for _, uid := range claims {
		if r := b.ref(userKey(mode, uid)); r != nil && r.sessionID != id {
			return ErrParticipantBusy
		}
	}
	return nil
}

// apply commits c. Callers hold mu.
func (b *MemoryBackend) apply(mode model.Mode, id, key string, c Change) {
	b.version++
	var expiresAt time.Time
	if c.TTL > 0 {
		expiresAt = b.now().Add(c.TTL)
	}
	b.docs[key] = &memoryDoc{raw: append([]byte(nil), c.Doc...), version: b.version, expiresAt: expiresAt}
	for _, uid := range c.Holds {
		if r := b.ref(userKey(mode, uid)); r != nil && r.sessionID == id {
			r.version, r.expiresAt = b.version, expiresAt
		}
	}
	for _, uid := range c.Claims {
		b.refs[userKey(mode, uid)] = &memoryRef{sessionID: id, version: b.version, expiresAt: expiresAt}
	}
	for _, uid := range c.Releases {
		k := userKey(mode, uid)
		if r := b.ref(k); r != nil && r.sessionID == id {
			delete(b.refs, k)
		}
	}
}

func (b *MemoryBackend) index(key, id string, add bool) {
	set, ok := b.active[key]
	if !ok {
		if !add {
			return
		}
		set = make(map[string]struct{})
		b.active[key] = set
	}
	if add {
		set[id] = struct{}{}
	} else {
		delete(set, id)
	}
}
