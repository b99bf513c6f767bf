package statestore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/example/adlib/internal/db"
)

// PostgresStore keeps values in the page_state table (see internal/migrate).
type PostgresStore struct{ db *db.DB }

func NewPostgresStore(d *db.DB) *PostgresStore { return &PostgresStore{db: d} }

func (p *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRow(ctx, `SELECT value FROM page_state WHERE key=$1`, key).Scan(&v)
	if err != nil {
		if db.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "get page state %q", key)
	}
	return v, nil
}

func (p *PostgresStore) Set(ctx context.Context, key, value string) error {
	err := p.db.Exec(ctx, `
INSERT INTO page_state(key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, key, value)
	return errors.Wrapf(err, "set page state %q", key)
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(p.db.Exec(ctx, `DELETE FROM page_state WHERE key=$1`, key), "delete page state %q", key)
}
