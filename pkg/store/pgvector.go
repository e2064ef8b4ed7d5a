package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/askpage/askpage/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var (
	// ErrNotFound is returned by FindByURL when no page has the URL.
	ErrNotFound = errors.New("page not found")

	// ErrDuplicate is returned by Insert when the URL is already stored.
	// The unique key on url is the authoritative dedup signal; callers
	// treat this as "already exists", not as a failure.
	ErrDuplicate = errors.New("page already exists")
)

const uniqueViolation = "23505"

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// VectorStore persists pages in Postgres with a pgvector embedding column
// and answers cosine-similarity queries.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "webpages"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text / text-embedding-004 dimension
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{config: config, pool: pool}
	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// url is the primary key: ingestion is write-once per URL and the
	// constraint, not the pre-insert lookup, enforces that under races.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			url TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.config.TableName, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// FindByURL looks up a page by exact URL string. Returns ErrNotFound when
// no row matches.
func (vs *VectorStore) FindByURL(ctx context.Context, url string) (*models.Page, error) {
	query := fmt.Sprintf(
		"SELECT url, content, embedding FROM %s WHERE url = $1",
		vs.config.TableName)

	var page models.Page
	var embedding pgvector.Vector
	err := vs.pool.QueryRow(ctx, query, url).Scan(&page.URL, &page.Content, &embedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up page: %w", err)
	}
	page.Embedding = embedding.Slice()
	return &page, nil
}

// Insert writes one page as a single atomic row. A unique-key violation
// maps to ErrDuplicate.
func (vs *VectorStore) Insert(ctx context.Context, page *models.Page) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (url, content, embedding) VALUES ($1, $2, $3)",
		vs.config.TableName)

	_, err := vs.pool.Exec(ctx, stmt,
		page.URL,
		sanitizeUTF8(page.Content),
		pgvector.NewVector(page.Embedding),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

// SimilaritySearch returns up to k pages with cosine similarity to the
// query embedding at or above threshold, most similar first. pgvector's
// <=> operator is cosine distance, so similarity is 1 - distance.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, embedding []float32, k int, threshold float64) ([]models.SimilarityMatch, error) {
	query := fmt.Sprintf(`
		SELECT url, content, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY similarity DESC
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(embedding), threshold, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar pages: %w", err)
	}
	defer rows.Close()

	var matches []models.SimilarityMatch
	for rows.Next() {
		var m models.SimilarityMatch
		if err := rows.Scan(&m.URL, &m.Content, &m.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return matches, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid byte sequences before a row hits Postgres,
// which rejects non-UTF8 text.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
