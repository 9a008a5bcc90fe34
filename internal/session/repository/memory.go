package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/althaafka/pdfhub-api/internal/session/domain"
)

// MemoryLedger is an in-process Ledger for development and tests.
// One mutex serializes every unit; writes are staged and applied on success.
type MemoryLedger struct {
	mu     sync.Mutex
	rows   map[int64]*domain.RefreshSession
	byHash map[string]int64
	nextID int64
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rows:   make(map[int64]*domain.RefreshSession),
		byHash: make(map[string]int64),
	}
}

// InTx runs fn with exclusive access to the ledger. Staged writes are applied only when fn returns nil.
func (l *MemoryLedger) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memoryTx{
		base:    l,
		staged:  make(map[int64]*domain.RefreshSession),
		deleted: make(map[int64]bool),
		hashes:  make(map[string]int64),
		nextID:  l.nextID,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// ListByOwner returns copies of every session of ownerID, newest first.
func (l *MemoryLedger) ListByOwner(ctx context.Context, ownerID string) ([]*domain.RefreshSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.RefreshSession
	for _, s := range l.rows {
		if s.OwnerID == ownerID {
			out = append(out, s.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

type memoryTx struct {
	base    *MemoryLedger
	staged  map[int64]*domain.RefreshSession
	deleted map[int64]bool
	hashes  map[string]int64
	nextID  int64
}

func (t *memoryTx) LockOwner(context.Context, string) error { return nil }

func (t *memoryTx) Insert(_ context.Context, s *domain.RefreshSession) (int64, error) {
	if t.lookupHash(s.TokenHash) != nil {
		return 0, ErrDuplicateToken
	}
	t.nextID++
	s.ID = t.nextID
	row := s.Clone()
	row.Token = ""
	t.staged[s.ID] = row
	t.hashes[s.TokenHash] = s.ID
	return s.ID, nil
}

func (t *memoryTx) FindByToken(_ context.Context, tokenHash string) (*domain.RefreshSession, error) {
	return t.lookupHash(tokenHash).Clone(), nil
}

func (t *memoryTx) FindByID(_ context.Context, id int64) (*domain.RefreshSession, error) {
	return t.get(id).Clone(), nil
}

func (t *memoryTx) ListActiveByOwner(_ context.Context, ownerID string) ([]*domain.RefreshSession, error) {
	var out []*domain.RefreshSession
	seen := make(map[int64]bool)
	collect := func(id int64) {
		if seen[id] {
			return
		}
		seen[id] = true
		if s := t.get(id); s != nil && s.OwnerID == ownerID && s.Active {
			out = append(out, s.Clone())
		}
	}
	for id := range t.staged {
		collect(id)
	}
	for id := range t.base.rows {
		collect(id)
	}
	sortNewestFirst(out)
	return out, nil
}

func (t *memoryTx) DeleteMany(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if s := t.get(id); s != nil {
			delete(t.hashes, s.TokenHash)
		}
		delete(t.staged, id)
		t.deleted[id] = true
	}
	return nil
}

func (t *memoryTx) Save(_ context.Context, s *domain.RefreshSession) error {
	cur := t.get(s.ID)
	if cur == nil {
		return ErrSessionNotFound
	}
	next := cur.Clone()
	next.Active = s.Active
	next.RevokedAt = s.Clone().RevokedAt
	next.RevocationReason = s.RevocationReason
	next.ReplacedBy = s.Clone().ReplacedBy
	t.staged[s.ID] = next
	return nil
}

func (t *memoryTx) get(id int64) *domain.RefreshSession {
	if t.deleted[id] {
		return nil
	}
	if s, ok := t.staged[id]; ok {
		return s
	}
	return t.base.rows[id]
}

func (t *memoryTx) lookupHash(hash string) *domain.RefreshSession {
	if id, ok := t.hashes[hash]; ok {
		return t.get(id)
	}
	if id, ok := t.base.byHash[hash]; ok {
		return t.get(id)
	}
	return nil
}

func (t *memoryTx) commit() {
	for id := range t.deleted {
		if s, ok := t.base.rows[id]; ok {
			delete(t.base.byHash, s.TokenHash)
			delete(t.base.rows, id)
		}
	}
	for id, s := range t.staged {
		t.base.rows[id] = s
		t.base.byHash[s.TokenHash] = id
	}
	t.base.nextID = t.nextID
}

func sortNewestFirst(list []*domain.RefreshSession) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].IssuedAt.Equal(list[j].IssuedAt) {
			return list[i].IssuedAt.After(list[j].IssuedAt)
		}
		return list[i].ID > list[j].ID
	})
}
