package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"meeting-ata-go/internal/types"
)

//go:embed schema.sql
var schemaDDL string

// Postgres implements Store on PostgreSQL via database/sql.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects, pings and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := NewPostgres(db)
	if err := s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	return s.db.Close()
}

const recordColumns = `id, original_name, stored_name, file_path, size_bytes, format,
	user_id, meeting_ref, processing_status, transcript, processed_at, processing_error,
	minutes_generated, minutes_text, minutes_status, minutes_generated_at, minutes_error,
	created_at`

func scanRecord(row interface{ Scan(...any) error }) (*types.AudioRecord, error) {
	var rec types.AudioRecord
	var processedAt, minutesAt sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.FilePath, &rec.SizeBytes,
		&rec.Format, &rec.UserID, &rec.MeetingRef, &rec.ProcessingStatus, &rec.Transcript,
		&processedAt, &rec.ProcessingError, &rec.MinutesGenerated, &rec.MinutesText,
		&rec.MinutesStatus, &minutesAt, &rec.MinutesError, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	if processedAt.Valid {
		rec.ProcessedAt = &processedAt.Time
	}
	if minutesAt.Valid {
		rec.MinutesGeneratedAt = &minutesAt.Time
	}
	return &rec, nil
}

func (s *Postgres) CreateRecord(ctx context.Context, rec *types.AudioRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audio_records
			(id, original_name, stored_name, file_path, size_bytes, format,
			 user_id, meeting_ref, processing_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OriginalName, rec.StoredName, rec.FilePath, rec.SizeBytes,
		rec.Format, rec.UserID, rec.MeetingRef, rec.ProcessingStatus, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *Postgres) GetRecord(ctx context.Context, id string) (*types.AudioRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM audio_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *Postgres) UpdateRecord(ctx context.Context, id string, upd RecordUpdate) (*types.AudioRecord, error) {
	sets := []string{}
	args := []any{}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.ProcessingStatus != nil {
		add("processing_status", *upd.ProcessingStatus)
	}
	if upd.Transcript != nil {
		add("transcript", *upd.Transcript)
	}
	if upd.ProcessedAt != nil {
		add("processed_at", *upd.ProcessedAt)
	}
	if upd.ProcessingError != nil {
		add("processing_error", *upd.ProcessingError)
	}
	if upd.MinutesGenerated != nil {
		add("minutes_generated", *upd.MinutesGenerated)
	}
	if upd.MinutesText != nil {
		add("minutes_text", *upd.MinutesText)
	}
	if upd.MinutesStatus != nil {
		add("minutes_status", *upd.MinutesStatus)
	}
	if upd.MinutesGeneratedAt != nil {
		add("minutes_generated_at", *upd.MinutesGeneratedAt)
	}
	if upd.MinutesError != nil {
		add("minutes_error", *upd.MinutesError)
	}
	if len(sets) == 0 {
		return s.GetRecord(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE audio_records SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), recordColumns)
	return scanRecord(s.db.QueryRowContext(ctx, query, args...))
}

func (s *Postgres) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audio_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListRecords(ctx context.Context, f RecordFilter) ([]types.AudioRecord, error) {
	where := []string{}
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("processing_status = $%d", len(args)))
	}
	query := `SELECT ` + recordColumns + ` FROM audio_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []types.AudioRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateSignature(ctx context.Context, sig *types.Signature) error {
	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.SignedAt.IsZero() {
		sig.SignedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signatures
			(id, record_id, signer_name, signer_tax_id, signer_email, signer_role,
			 kind, document_hash, signer_ip, user_agent, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sig.ID, sig.RecordID, sig.SignerName, sig.SignerTaxID, sig.SignerEmail,
		sig.SignerRole, sig.Kind, sig.DocumentHash, sig.SignerIP, sig.UserAgent,
		sig.SignedAt)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

func (s *Postgres) ListSignatures(ctx context.Context, recordID string) ([]types.Signature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, record_id, signer_name, signer_tax_id, signer_email, signer_role,
		       kind, document_hash, signer_ip, user_agent, signed_at
		FROM signatures WHERE record_id = $1 ORDER BY signed_at ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var out []types.Signature
	for rows.Next() {
		var sig types.Signature
		if err := rows.Scan(
			&sig.ID, &sig.RecordID, &sig.SignerName, &sig.SignerTaxID, &sig.SignerEmail,
			&sig.SignerRole, &sig.Kind, &sig.DocumentHash, &sig.SignerIP, &sig.UserAgent,
			&sig.SignedAt,
		); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateUser(ctx context.Context, u *types.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email) VALUES ($1, $2, $3)`,
		u.ID, u.Name, u.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*types.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE id = $1`, id))
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*types.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE email = $1`, email))
}

func (s *Postgres) scanUser(row *sql.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.ID, &u.Name, &u.Email)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

func (s *Postgres) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email FROM users ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var u types.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
