package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed Store implementation, grounded on
// the teacher's internal/db.go pool construction and its preference
// for direct hand-written SQL over an ORM.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) FindInstanceByID(ctx context.Context, id int64) (ProviderInstanceRow, error) {
	var row ProviderInstanceRow
	var configJSON []byte
	var lastFetched *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, provider_kind, name, config, last_fetched FROM provider_instances WHERE id = $1`,
		id,
	).Scan(&row.ID, &row.ProviderKind, &row.Name, &configJSON, &lastFetched)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProviderInstanceRow{}, ErrNotFound
	}
	if err != nil {
		return ProviderInstanceRow{}, fmt.Errorf("metadata: find instance %d: %w", id, err)
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &row.Config); err != nil {
			return ProviderInstanceRow{}, fmt.Errorf("metadata: decode config for instance %d: %w", id, err)
		}
	}
	row.LastFetched = lastFetched
	return row, nil
}

func (s *PostgresStore) UpdateLastFetched(ctx context.Context, id int64, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE provider_instances SET last_fetched = $1 WHERE id = $2`,
		t.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("metadata: update last_fetched for instance %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) FindInstancesByProviderKind(ctx context.Context, kind string) ([]ProviderInstanceRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_kind, name, config, last_fetched FROM provider_instances WHERE provider_kind = $1`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("metadata: find instances by kind %s: %w", kind, err)
	}
	defer rows.Close()

	var out []ProviderInstanceRow
	for rows.Next() {
		var row ProviderInstanceRow
		var configJSON []byte
		var lastFetched *time.Time
		if err := rows.Scan(&row.ID, &row.ProviderKind, &row.Name, &configJSON, &lastFetched); err != nil {
			return nil, fmt.Errorf("metadata: scan instance row: %w", err)
		}
		if len(configJSON) > 0 {
			_ = json.Unmarshal(configJSON, &row.Config)
		}
		row.LastFetched = lastFetched
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateDocument(ctx context.Context, in DocumentInput) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (instance_id, doc_type, status, title, author, author_avatar, url, location, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		in.InstanceID, in.DocType, in.Status, in.Title, in.Author, in.AuthorAvatar, in.URL, in.Location, in.Timestamp.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("metadata: create document for instance %d: %w", in.InstanceID, err)
	}
	return id, nil
}

func (s *PostgresStore) CreateSubDocument(ctx context.Context, documentID int64, data string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sub_documents (document_id, data) VALUES ($1, $2) RETURNING id`,
		documentID, data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("metadata: create sub_document for document %d: %w", documentID, err)
	}
	return id, nil
}
