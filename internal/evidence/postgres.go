package evidence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore keeps evidence in the evidence_blobs table, keyed by content hash.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	ref := Ref(data)
	_, err := s.db.ExecContext(ctx, `INSERT INTO evidence_blobs (ref, content_type, size_bytes, data, created_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (ref) DO NOTHING`,
		ref, contentType, len(data), data, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return ref, nil
}

// Get returns the payload for ref, or ok=false if it is not stored.
func (s *PostgresStore) Get(ctx context.Context, ref string) (data []byte, contentType string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT data, content_type FROM evidence_blobs WHERE ref = $1`, ref).Scan(&data, &contentType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	return data, contentType, true, nil
}
