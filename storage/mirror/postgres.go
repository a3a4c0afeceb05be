package mirror

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type postgresBackend struct {
	db *sqlx.DB
}

var _ Backend = (*postgresBackend)(nil)

// NewPostgresBackend stores blobs in the mirror_entries table (see storage/database/migrations).
func NewPostgresBackend(db *sqlx.DB) Backend {
	return &postgresBackend{db: db}
}

func (b *postgresBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.GetContext(ctx, &value, `SELECT value FROM mirror_entries WHERE key = $1`, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return value, true, nil
}

func (b *postgresBackend) Put(ctx context.Context, entries map[string][]byte) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO mirror_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	for k, v := range entries {
		if _, err := tx.ExecContext(ctx, q, k, string(v)); err != nil {
			return errors.Wrapf(err, "upserting %q", k)
		}
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (b *postgresBackend) Delete(ctx context.Context, keys ...string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM mirror_entries WHERE key = ANY($1)`, pq.Array(keys))
	return err
}

func (b *postgresBackend) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := b.db.SelectContext(ctx, &keys, `SELECT key FROM mirror_entries ORDER BY key`)
	return keys, err
}
