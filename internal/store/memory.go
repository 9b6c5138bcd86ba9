package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/docket/internal/records"
)

// Memory is a Store held in process memory. Records are copied on the way in
// and out so callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	records     map[uuid.UUID]*records.Record
	order       []uuid.UUID
	checkpoints map[uuid.UUID][]records.Checkpoint
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:     make(map[uuid.UUID]*records.Record),
		checkpoints: make(map[uuid.UUID][]records.Checkpoint),
	}
}

func (m *Memory) Create(ctx context.Context, content string) (*records.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("create", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, storageError("create", err)
	}
	rec := records.New(id, content, time.Now().UTC())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[id] = rec.Clone()
	m.order = append(m.order, id)
	m.checkpoints[id] = []records.Checkpoint{records.CheckpointOf(rec)}

	return rec, nil
}

func (m *Memory) Get(ctx context.Context, id uuid.UUID) (*records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, rec *records.Record) error {
	if err := wellFormed(rec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storageError("save checkpoint", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if err := admit(stored.Status, stored.Version, rec); err != nil {
		return err
	}

	next := rec.Clone()
	next.Content = stored.Content
	next.CreatedAt = stored.CreatedAt

	m.records[rec.ID] = next
	m.checkpoints[rec.ID] = append(m.checkpoints[rec.ID], records.CheckpointOf(next))
	return nil
}

func (m *Memory) List(ctx context.Context, statuses ...records.Status) ([]*records.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*records.Record, 0)
	for _, id := range m.order {
		rec := m.records[id]
		if len(statuses) == 0 || slices.Contains(statuses, rec.Status) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *Memory) Checkpoints(ctx context.Context, id uuid.UUID) ([]records.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps, ok := m.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]records.Checkpoint, len(cps))
	for i, cp := range cps {
		cp.Snapshot = *cp.Snapshot.Clone()
		out[i] = cp
	}
	return out, nil
}
