package store

import (
	"context"
	"errors"
	"time"

	"meeting-ata-go/internal/types"
)

// ErrNotFound is returned when a record, signature owner or user is absent.
// Callers treat it as a non-fatal condition, distinct from storage failures.
var ErrNotFound = errors.New("not found")

// RecordUpdate is a partial update: nil fields are left untouched so
// concurrent writers never clobber columns they did not set.
type RecordUpdate struct {
	ProcessingStatus *types.ProcessingStatus
	Transcript       *string
	ProcessedAt      *time.Time
	ProcessingError  *string

	MinutesGenerated   *bool
	MinutesText        *string
	MinutesStatus      *types.MinutesStatus
	MinutesGeneratedAt *time.Time
	MinutesError       *string
}

// RecordFilter narrows ListRecords. Zero values mean "no filter".
type RecordFilter struct {
	UserID string
	Status types.ProcessingStatus
}

// Store is the durable record store for audio records, signatures and users.
type Store interface {
	CreateRecord(ctx context.Context, rec *types.AudioRecord) error
	GetRecord(ctx context.Context, id string) (*types.AudioRecord, error)
	UpdateRecord(ctx context.Context, id string, upd RecordUpdate) (*types.AudioRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	ListRecords(ctx context.Context, f RecordFilter) ([]types.AudioRecord, error)

	CreateSignature(ctx context.Context, sig *types.Signature) error
	ListSignatures(ctx context.Context, recordID string) ([]types.Signature, error)

	CreateUser(ctx context.Context, u *types.User) error
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	ListUsers(ctx context.Context) ([]types.User, error)
}
