package sqlite

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"mintforest/internal/model"
)

// GetOrCreateProxy deduplicates proxies by URL so accounts share one
// immutable descriptor by reference.
func (s *Store) GetOrCreateProxy(ctx context.Context, url string) (model.Proxy, error) {
	if url == "" {
		return model.Proxy{}, errors.New("proxy url is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proxies (id, url) VALUES (?, ?)
		ON CONFLICT(url) DO NOTHING
	`, uuid.NewString(), url)
	if err != nil {
		return model.Proxy{}, err
	}
	var p model.Proxy
	err = s.db.QueryRowContext(ctx, `SELECT id, url FROM proxies WHERE url = ?`, url).Scan(&p.ID, &p.URL)
	return p, err
}
