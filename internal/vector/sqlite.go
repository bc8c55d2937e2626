package vector

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCollection stores embeddings as little-endian float32 BLOBs in a
// shared vectors table keyed by (collection, id). Queries scan every row of
// the collection.
type SQLiteCollection struct {
	db         *sql.DB
	name       string
	dimensions int
	mu         sync.RWMutex
}

// OpenSQLiteCollection opens or creates the vectors database at dbPath and
// returns the collection called name. dimensions may be 0, in which case it
// is taken from stored rows or fixed by the first upsert.
func OpenSQLiteCollection(ctx context.Context, dbPath, name string, dimensions int) (*SQLiteCollection, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		dims INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		fingerprint INTEGER,
		PRIMARY KEY (collection, id)
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize vector schema: %w", err)
	}

	c := &SQLiteCollection{db: db, name: name, dimensions: dimensions}
	if c.dimensions == 0 {
		var dims sql.NullInt64
		err := db.QueryRowContext(ctx,
			`SELECT dims FROM vectors WHERE collection = ? LIMIT 1`, name,
		).Scan(&dims)
		if err != nil && err != sql.ErrNoRows {
			_ = db.Close()
			return nil, fmt.Errorf("failed to read collection dimensions: %w", err)
		}
		c.dimensions = int(dims.Int64)
	}
	return c, nil
}

func (c *SQLiteCollection) Name() string { return c.name }

// Get returns entries for the ids present in the collection.
func (c *SQLiteCollection) Get(ctx context.Context, ids []string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(ids))
	for _, chunk := range chunkIDs(ids, 500) {
		query := `SELECT id, embedding, fingerprint FROM vectors WHERE collection = ? AND id IN (` +
			placeholders(len(chunk)) + `)`
		args := make([]any, 0, len(chunk)+1)
		args = append(args, c.name)
		for _, id := range chunk {
			args = append(args, id)
		}
		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to get vectors: %w", err)
		}
		for rows.Next() {
			var id string
			var blob []byte
			var fp sql.NullInt64
			if err := rows.Scan(&id, &blob, &fp); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan vector row: %w", err)
			}
			out[id] = Entry{
				Embedding: bytesToFloat32Slice(blob),
				Metadata:  Metadata{Fingerprint: fp.Int64, HasFingerprint: fp.Valid},
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Upsert inserts or replaces entries in one transaction.
func (c *SQLiteCollection) Upsert(ctx context.Context, ids []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := validateUpsert(ids, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	dims, err := checkDimensions(c.dimensions, embeddings)
	if err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (collection, id, dims, embedding, fingerprint)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			dims = excluded.dims,
			embedding = excluded.embedding,
			fingerprint = excluded.fingerprint
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()
	for i, id := range ids {
		md := metadataAt(metadatas, i)
		var fp sql.NullInt64
		if md.HasFingerprint {
			fp = sql.NullInt64{Int64: md.Fingerprint, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, c.name, id, dims, float32SliceToBytes(embeddings[i]), fp); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	c.dimensions = dims
	return nil
}

// Delete removes ids; missing ids are ignored.
func (c *SQLiteCollection) Delete(ctx context.Context, ids []string) error {
	for _, chunk := range chunkIDs(ids, 500) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, c.name)
		for _, id := range chunk {
			args = append(args, id)
		}
		_, err := c.db.ExecContext(ctx,
			`DELETE FROM vectors WHERE collection = ? AND id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
	}
	return nil
}

// Query scans the collection and returns the k nearest entries.
func (c *SQLiteCollection) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	c.mu.RLock()
	dims := c.dimensions
	c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT id, embedding FROM vectors WHERE collection = ?`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector row: %w", err)
		}
		if len(embedding) != dims {
			return nil, fmt.Errorf("%w: query has %d, collection has %d", ErrDimensionMismatch, len(embedding), dims)
		}
		matches = append(matches, Match{ID: id, Distance: CosineDistance(embedding, bytesToFloat32Slice(blob))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(matches, k), nil
}

// IDs returns every id in the collection, sorted.
func (c *SQLiteCollection) IDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id FROM vectors WHERE collection = ? ORDER BY id`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector ids: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *SQLiteCollection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE collection = ?`, c.name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

func (c *SQLiteCollection) Close() error {
	return c.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func chunkIDs(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}
