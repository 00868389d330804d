package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"meeting-ata-go/internal/types"
)

// Memory is a mutex-guarded in-memory Store. It backs the service when no
// DATABASE_URL is configured and every orchestrator test.
type Memory struct {
	mu         sync.Mutex
	records    map[string]types.AudioRecord
	signatures map[string][]types.Signature
	users      map[string]types.User
}

func NewMemory() *Memory {
	return &Memory{
		records:    make(map[string]types.AudioRecord),
		signatures: make(map[string][]types.Signature),
		users:      make(map[string]types.User),
	}
}

func (m *Memory) CreateRecord(_ context.Context, rec *types.AudioRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (*types.AudioRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) UpdateRecord(_ context.Context, id string, upd RecordUpdate) (*types.AudioRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.ProcessingStatus != nil {
		rec.ProcessingStatus = *upd.ProcessingStatus
	}
	if upd.Transcript != nil {
		rec.Transcript = *upd.Transcript
	}
	if upd.ProcessedAt != nil {
		t := *upd.ProcessedAt
		rec.ProcessedAt = &t
	}
	if upd.ProcessingError != nil {
		rec.ProcessingError = *upd.ProcessingError
	}
	if upd.MinutesGenerated != nil {
		rec.MinutesGenerated = *upd.MinutesGenerated
	}
	if upd.MinutesText != nil {
		rec.MinutesText = *upd.MinutesText
	}
	if upd.MinutesStatus != nil {
		rec.MinutesStatus = *upd.MinutesStatus
	}
	if upd.MinutesGeneratedAt != nil {
		t := *upd.MinutesGeneratedAt
		rec.MinutesGeneratedAt = &t
	}
	if upd.MinutesError != nil {
		rec.MinutesError = *upd.MinutesError
	}
	m.records[id] = rec
	return &rec, nil
}

func (m *Memory) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}
	delete(m.records, id)
	delete(m.signatures, id)
	return nil
}

func (m *Memory) ListRecords(_ context.Context, f RecordFilter) ([]types.AudioRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.AudioRecord, 0, len(m.records))
	for _, rec := range m.records {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if f.Status != "" && rec.ProcessingStatus != f.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateSignature(ctx context.Context, sig *types.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[sig.RecordID]; !ok {
		return ErrNotFound
	}
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	m.signatures[sig.RecordID] = append(m.signatures[sig.RecordID], *sig)
	return nil
}

func (m *Memory) ListSignatures(_ context.Context, recordID string) ([]types.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sigs := m.signatures[recordID]
	out := make([]types.Signature, len(sigs))
	copy(out, sigs)
	// Appended in signing order; keep chronological on equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SignedAt.Before(out[j].SignedAt)
	})
	return out, nil
}

func (m *Memory) CreateUser(_ context.Context, u *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListUsers(_ context.Context) ([]types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
