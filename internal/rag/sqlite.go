package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

const (
	// IndexFileName is the file written inside the index directory.
	IndexFileName = "index.db"

	// indexSchemaVersion is bumped whenever the on-disk layout changes.
	// Load refuses any other version.
	indexSchemaVersion = 1
)

// SQLiteStore persists a FlatIndex as a single SQLite file inside a
// directory. The schema is checked explicitly on Load, so a file that was not
// produced by Persist is rejected instead of being trusted.
type SQLiteStore struct {
	// embedder builds vectors and embeds queries of loaded indexes.
	embedder Embedder

	// embedderName identifies the embedding model; recorded on Persist and
	// checked on Load so vectors from a different model are never mixed.
	embedderName string
}

// NewSQLiteStore constructs a SQLiteStore. embedderName should identify the
// backend and model (e.g. "gemini/text-embedding-004").
func NewSQLiteStore(embedder Embedder, embedderName string) (*SQLiteStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	return &SQLiteStore{embedder: embedder, embedderName: embedderName}, nil
}

// Build embeds every chunk and returns a FlatIndex.
func (s *SQLiteStore) Build(ctx context.Context, chunks []Chunk) (Index, error) {
	return buildFlat(ctx, s.embedder, chunks)
}

const indexDDL = `
CREATE TABLE meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE chunks (
    position   INTEGER PRIMARY KEY,
    id         TEXT    NOT NULL,
    source     TEXT    NOT NULL,
    page_start INTEGER NOT NULL,
    page_end   INTEGER NOT NULL,
    text       TEXT    NOT NULL,
    vector     BLOB    NOT NULL
);
`

// Persist writes idx to dir/index.db, replacing any previous index. The new
// file is written beside the old one and renamed into place, so a failed
// Persist leaves the previous index intact.
func (s *SQLiteStore) Persist(ctx context.Context, idx Index, dir string) error {
	flat, ok := idx.(*FlatIndex)
	if !ok {
		return fmt.Errorf("rag: sqlite store can only persist a *FlatIndex, got %T", idx)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("rag: create index dir %s: %w", dir, err)
	}

	final := filepath.Join(dir, IndexFileName)
	tmp := final + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rag: remove stale %s: %w", tmp, err)
	}

	if err := writeIndexFile(ctx, tmp, flat, s.embedderName); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rag: replace %s: %w", final, err)
	}
	return nil
}

// writeIndexFile creates a fresh SQLite database at path holding flat.
func writeIndexFile(ctx context.Context, path string, flat *FlatIndex, embedderName string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("rag: open %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, indexDDL); err != nil {
		return fmt.Errorf("rag: create index schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	meta := map[string]string{
		"schema_version": strconv.Itoa(indexSchemaVersion),
		"dimension":      strconv.Itoa(flat.dim),
		"count":          strconv.Itoa(len(flat.chunks)),
		"embedder":       embedderName,
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("rag: write meta %s: %w", k, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (position, id, source, page_start, page_end, text, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("rag: prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range flat.chunks {
		if _, err := stmt.ExecContext(ctx, c.Position, c.ID, c.Source, c.PageStart, c.PageEnd, c.Text, encodeVector(flat.vectors[i])); err != nil {
			return fmt.Errorf("rag: write chunk %d: %w", c.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: commit: %w", err)
	}
	return nil
}

// Load restores the index persisted in dir.
func (s *SQLiteStore) Load(ctx context.Context, dir string) (Index, error) {
	path := filepath.Join(dir, IndexFileName)
	fi, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrIndexNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("rag: stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, corruptf("%s is a directory", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rag: open %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := checkIndexSchema(ctx, db); err != nil {
		return nil, err
	}

	meta, err := readMeta(ctx, db)
	if err != nil {
		return nil, err
	}
	if meta.embedder != s.embedderName {
		return nil, corruptf("index was built with embedder %q but %q is configured; re-run ingest", meta.embedder, s.embedderName)
	}

	chunks, vectors, err := readChunks(ctx, db, meta)
	if err != nil {
		return nil, err
	}

	ix, err := NewFlatIndex(s.embedder, chunks, vectors)
	if err != nil {
		return nil, corruptf("%v", err)
	}
	return ix, nil
}

// checkIndexSchema verifies the file is a SQLite database holding exactly the
// tables Persist creates.
func checkIndexSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return corruptf("not a readable index database: %v", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return corruptf("schema scan: %v", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return corruptf("schema rows: %v", err)
	}
	if len(tables) != 2 || tables[0] != "chunks" || tables[1] != "meta" {
		return corruptf("unexpected tables %v", tables)
	}
	return nil
}

// indexMeta is the parsed content of the meta table.
type indexMeta struct {
	dimension int
	count     int
	embedder  string
}

// readMeta parses and validates the meta table.
func readMeta(ctx context.Context, db *sql.DB) (indexMeta, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return indexMeta{}, corruptf("read meta: %v", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return indexMeta{}, corruptf("meta scan: %v", err)
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return indexMeta{}, corruptf("meta rows: %v", err)
	}

	version, err := strconv.Atoi(kv["schema_version"])
	if err != nil || version != indexSchemaVersion {
		return indexMeta{}, corruptf("unsupported schema_version %q", kv["schema_version"])
	}
	var m indexMeta
	if m.dimension, err = strconv.Atoi(kv["dimension"]); err != nil || m.dimension < 0 {
		return indexMeta{}, corruptf("invalid dimension %q", kv["dimension"])
	}
	if m.count, err = strconv.Atoi(kv["count"]); err != nil || m.count < 0 {
		return indexMeta{}, corruptf("invalid count %q", kv["count"])
	}
	if (m.count == 0) != (m.dimension == 0) {
		return indexMeta{}, corruptf("count %d inconsistent with dimension %d", m.count, m.dimension)
	}
	m.embedder = kv["embedder"]
	return m, nil
}

// readChunks reads all chunk rows in position order and validates them
// against meta.
func readChunks(ctx context.Context, db *sql.DB, meta indexMeta) ([]Chunk, [][]float32, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT position, id, source, page_start, page_end, text, vector FROM chunks ORDER BY position`)
	if err != nil {
		return nil, nil, corruptf("read chunks: %v", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0, meta.count)
	vectors := make([][]float32, 0, meta.count)
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.Position, &c.ID, &c.Source, &c.PageStart, &c.PageEnd, &c.Text, &blob); err != nil {
			return nil, nil, corruptf("chunk scan: %v", err)
		}
		if c.Position != len(chunks) {
			return nil, nil, corruptf("chunk positions not contiguous at %d", c.Position)
		}
		v, err := decodeVector(blob, meta.dimension)
		if err != nil {
			return nil, nil, corruptf("chunk %d: %v", c.Position, err)
		}
		chunks = append(chunks, c)
		vectors = append(vectors, v)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, corruptf("chunk rows: %v", err)
	}
	if len(chunks) != meta.count {
		return nil, nil, corruptf("meta count %d but %d chunks stored", meta.count, len(chunks))
	}
	return chunks, vectors, nil
}

// Close is a no-op; SQLiteStore opens the database only for the duration of
// Persist and Load.
func (s *SQLiteStore) Close() error { return nil }

// encodeVector serialises v as little-endian IEEE-754 float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeVector is the inverse of encodeVector and checks the dimension.
func decodeVector(b []byte, dim int) ([]float32, error) {
	if len(b) != 4*dim {
		return nil, fmt.Errorf("vector has %d bytes, want %d", len(b), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
