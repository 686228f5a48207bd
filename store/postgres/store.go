package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/storefront/authguard"
	"github.com/storefront/authguard/internal/otp"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store keeps passcode records in PostgreSQL. It satisfies
// authguard.RecordStore.
type Store struct {
	db *sqlx.DB
}

type codeRow struct {
	UserID      string    `db:"user_id"`
	Purpose     string    `db:"purpose"`
	ID          string    `db:"id"`
	Destination string    `db:"destination"`
	CodeHash    []byte    `db:"code_hash"`
	State       int16     `db:"state"`
	Attempts    int       `db:"attempts"`
	MaxAttempts int       `db:"max_attempts"`
	CreatedAt   time.Time `db:"created_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertCode = `
INSERT INTO otp_codes (user_id, purpose, id, destination, code_hash, state, attempts, max_attempts, created_at, expires_at)
VALUES (:user_id, :purpose, :id, :destination, :code_hash, :state, :attempts, :max_attempts, :created_at, :expires_at)
ON CONFLICT (user_id, purpose) DO UPDATE SET
	id = EXCLUDED.id,
	destination = EXCLUDED.destination,
	code_hash = EXCLUDED.code_hash,
	state = EXCLUDED.state,
	attempts = EXCLUDED.attempts,
	max_attempts = EXCLUDED.max_attempts,
	created_at = EXCLUDED.created_at,
	expires_at = EXCLUDED.expires_at`

const selectCode = `
SELECT user_id, purpose, id, destination, code_hash, state, attempts, max_attempts, created_at, expires_at
FROM otp_codes WHERE user_id = $1 AND purpose = $2`

// Replace supersedes the current record for (rec.UserID, rec.Purpose).
func (s *Store) Replace(ctx context.Context, rec *authguard.OTPRecord) error {
	if rec == nil || rec.UserID == "" || !rec.Purpose.Valid() {
		return errors.New("postgres: invalid otp record")
	}
	if _, err := s.db.NamedExecContext(ctx, upsertCode, toRow(rec)); err != nil {
		return fmt.Errorf("replace otp record: %w", err)
	}
	return nil
}

// Current returns the record for (userID, purpose), or nil.
func (s *Store) Current(ctx context.Context, userID string, purpose authguard.Purpose) (*authguard.OTPRecord, error) {
	var row codeRow
	err := s.db.GetContext(ctx, &row, selectCode, userID, string(purpose))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load otp record: %w", err)
	}
	return fromRow(row)
}

// Attempt locks the row, applies one verification attempt and persists the
// result in the same transaction.
func (s *Store) Attempt(ctx context.Context, userID string, purpose authguard.Purpose, provided [32]byte, now time.Time) (*authguard.OTPRecord, authguard.OTPOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, authguard.OutcomeNotFound, fmt.Errorf("begin attempt: %w", err)
	}
	defer tx.Rollback()

	var row codeRow
	err = tx.GetContext(ctx, &row, selectCode+" FOR UPDATE", userID, string(purpose))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authguard.OutcomeNotFound, nil
	}
	if err != nil {
		return nil, authguard.OutcomeNotFound, fmt.Errorf("lock otp record: %w", err)
	}

	rec, err := fromRow(row)
	if err != nil {
		return nil, authguard.OutcomeNotFound, err
	}

	outcome, changed := otp.Evaluate(rec, provided, now)
	if !changed {
		return rec, outcome, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE otp_codes SET state = $1, attempts = $2 WHERE user_id = $3 AND purpose = $4 AND id = $5`,
		int16(rec.State), int(rec.Attempts), userID, string(purpose), rec.ID,
	); err != nil {
		return nil, authguard.OutcomeNotFound, fmt.Errorf("update otp record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, authguard.OutcomeNotFound, fmt.Errorf("commit attempt: %w", err)
	}
	return rec, outcome, nil
}

// Prune deletes records that expired before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune otp records: %w", err)
	}
	return res.RowsAffected()
}

func toRow(rec *authguard.OTPRecord) codeRow {
	return codeRow{
		UserID:      rec.UserID,
		Purpose:     string(rec.Purpose),
		ID:          rec.ID,
		Destination: rec.Destination,
		CodeHash:    rec.CodeHash[:],
		State:       int16(rec.State),
		Attempts:    int(rec.Attempts),
		MaxAttempts: int(rec.MaxAttempts),
		CreatedAt:   rec.CreatedAt.UTC(),
		ExpiresAt:   rec.ExpiresAt.UTC(),
	}
}

func fromRow(row codeRow) (*authguard.OTPRecord, error) {
	if len(row.CodeHash) != 32 {
		return nil, errors.New("postgres: corrupt otp code hash")
	}
	rec := &authguard.OTPRecord{
		ID:          row.ID,
		UserID:      row.UserID,
		Purpose:     authguard.Purpose(row.Purpose),
		Destination: row.Destination,
		State:       authguard.OTPState(row.State),
		Attempts:    uint16(row.Attempts),
		MaxAttempts: uint16(row.MaxAttempts),
		CreatedAt:   row.CreatedAt,
		ExpiresAt:   row.ExpiresAt,
	}
	copy(rec.CodeHash[:], row.CodeHash)
	return rec, nil
}
