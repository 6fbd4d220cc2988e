package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/dependency-scanner/internal/model"
)

// MemoryStore is a Store kept entirely in process memory. It backs dry runs
// and unit tests.
type MemoryStore struct {
	mu       sync.Mutex
	findings map[string]model.TrackedFinding // by ID
	active   map[string]string               // fingerprint -> ID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		findings: make(map[string]model.TrackedFinding),
		active:   make(map[string]string),
	}
}

func (m *MemoryStore) FindByFingerprint(_ context.Context, fp string) (*model.TrackedFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[fp]
	if !ok {
		return nil, nil
	}
	f := m.findings[id]
	return &f, nil
}

func (m *MemoryStore) ListActive(_ context.Context, projectKey string) ([]model.TrackedFinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrackedFinding
	for _, id := range m.active {
		if f := m.findings[id]; f.ProjectKey == projectKey {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, f model.TrackedFinding) (model.TrackedFinding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.active[f.Fingerprint]; ok {
		return m.findings[id], false, nil
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.TicketID = "TICKET-" + f.ID
	m.findings[f.ID] = f
	m.active[f.Fingerprint] = f.ID
	return f, true, nil
}

func (m *MemoryStore) Update(_ context.Context, f model.TrackedFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findings[f.ID]; !ok {
		return ErrNotFound
	}
	m.findings[f.ID] = f
	return nil
}

func (m *MemoryStore) Close(_ context.Context, f model.TrackedFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.findings[f.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Status == model.StatusClosed {
		return nil
	}
	f.Status = model.StatusClosed
	m.findings[f.ID] = f
	if m.active[f.Fingerprint] == f.ID {
		delete(m.active, f.Fingerprint)
	}
	return nil
}

// All returns every finding ever stored, closed ones included, ordered by
// first observation.
func (m *MemoryStore) All() []model.TrackedFinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TrackedFinding, 0, len(m.findings))
	for _, f := range m.findings {
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].FirstSeen.Before(out[j].FirstSeen)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
