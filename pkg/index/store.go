// Package index holds the derived, searchable side of the system: one
// metadata row plus one embedding per memory, in a single SQLite file with
// the sqlite-vec extension. The index is disposable; it can always be
// rebuilt from the note log.
package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/engramhq/engram/pkg/memory"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Filters restricts a vector search. Zero values mean no restriction. They
// are applied inside the similarity query, so the limit is honored against
// the filtered population.
type Filters struct {
	Spec      string
	Namespace memory.Namespace
	Since     time.Time
	Until     time.Time
}

// Match is one search hit, ordered ascending by cosine distance.
type Match struct {
	ID       string
	Distance float64
}

// Stats summarizes index contents.
type Stats struct {
	Total       int                      `json:"total"`
	ByNamespace map[memory.Namespace]int `json:"by_namespace"`
	BySpec      map[string]int           `json:"by_spec"`
	SizeBytes   int64                    `json:"size_bytes"`
	LastWrite   time.Time                `json:"last_write"`
}

// Store is one connection to the index file. Connections are not assumed
// safe for concurrent use, so each instance serializes access through its
// own mutex.
type Store struct {
	db        *sql.DB
	path      string
	dimension int
	logger    zerolog.Logger
	mu        sync.Mutex
}

// Config holds index store configuration.
type Config struct {
	Path      string
	Dimension int
	Logger    zerolog.Logger
}

// NewStore opens the index file and creates the schema if needed.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("index path is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, memory.NewIndexError("index.open",
			"check the index file path is writable; delete the file to force a rebuild", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, memory.NewIndexError("index.open",
			"the index file may be corrupted; delete it and run a full reindex", err)
	}

	s := &Store{
		db:        db,
		path:      cfg.Path,
		dimension: cfg.Dimension,
		logger:    cfg.Logger,
	}

	if err := s.Initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the schema. Safe to call repeatedly.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			commit_sha TEXT NOT NULL,
			namespace TEXT NOT NULL,
			spec TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			relates_to TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);
		CREATE INDEX IF NOT EXISTS idx_memories_spec ON memories(spec);
		CREATE INDEX IF NOT EXISTS idx_memories_timestamp ON memories(timestamp_ms);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return memory.NewIndexError("index.initialize",
			"the schema may need migration; delete the index file and run a full reindex", err)
	}

	vectorSchema := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_vectors USING vec0(
			memory_id TEXT PRIMARY KEY,
			embedding float[%d] distance_metric=cosine
		);
	`, s.dimension)
	if _, err := s.db.Exec(vectorSchema); err != nil {
		return memory.NewIndexError("index.initialize",
			"the sqlite-vec extension failed to load; rebuild with CGO enabled", err)
	}
	return nil
}

// Insert upserts a memory row and its embedding under one row identity.
func (s *Store) Insert(m *memory.Memory, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(embedding) != s.dimension {
		return memory.NewIndexError("index.insert",
			fmt.Sprintf("embedding has %d dimensions, index expects %d; rebuild the index with the current model", len(embedding), s.dimension),
			errors.New("dimension mismatch"))
	}

	tags, relates, err := marshalSets(m)
	if err != nil {
		return memory.NewIndexError("index.insert", "check tags and relates_to for unserializable values", err)
	}
	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return memory.NewIndexError("index.insert", "the embedding could not be serialized", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return s.lockedErr("index.insert", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO memories
			(id, commit_sha, namespace, spec, phase, status, tags, relates_to, summary, content, timestamp_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CommitSHA, string(m.Namespace), m.Spec, m.Phase, m.Status,
		tags, relates, m.Summary, m.Content, m.Timestamp.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return s.lockedErr("index.insert", err)
	}

	if _, err := tx.Exec("DELETE FROM memory_vectors WHERE memory_id = ?", m.ID); err != nil {
		return s.lockedErr("index.insert", err)
	}
	if _, err := tx.Exec(
		"INSERT INTO memory_vectors (memory_id, embedding) VALUES (?, ?)",
		m.ID, string(embJSON),
	); err != nil {
		return s.lockedErr("index.insert", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('last_write', ?)",
		fmt.Sprintf("%d", time.Now().UnixMilli()),
	); err != nil {
		return s.lockedErr("index.insert", err)
	}

	if err := tx.Commit(); err != nil {
		return s.lockedErr("index.insert", err)
	}

	s.logger.Debug().Str("id", m.ID).Msg("Memory indexed")
	return nil
}

// Get fetches one memory by ID, or nil when absent.
func (s *Store) Get(id string) (*memory.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(selectColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, memory.NewIndexError("index.get", "the index row may be corrupt; run a full reindex", err)
	}
	return m, nil
}

// GetBatch fetches many memories in a single query.
func (s *Store) GetBatch(ids []string) (map[string]*memory.Memory, error) {
	out := make(map[string]*memory.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(selectColumns+" FROM memories WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, memory.NewIndexError("index.getbatch", "run a full reindex if the index is corrupt", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, memory.NewIndexError("index.getbatch", "run a full reindex if the index is corrupt", err)
		}
		out[m.ID] = m
	}
	return out, rows.Err()
}

// Update rewrites a memory's metadata row. The embedding is unchanged.
func (s *Store) Update(m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, relates, err := marshalSets(m)
	if err != nil {
		return memory.NewIndexError("index.update", "check tags and relates_to for unserializable values", err)
	}

	res, err := s.db.Exec(`
		UPDATE memories SET commit_sha=?, namespace=?, spec=?, phase=?, status=?,
			tags=?, relates_to=?, summary=?, content=?, timestamp_ms=?
		WHERE id=?`,
		m.CommitSHA, string(m.Namespace), m.Spec, m.Phase, m.Status,
		tags, relates, m.Summary, m.Content, m.Timestamp.UnixMilli(), m.ID,
	)
	if err != nil {
		return s.lockedErr("index.update", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return memory.NewIndexError("index.update",
			"the memory is not indexed; run engram sync to repair", memory.ErrNotFound)
	}
	return nil
}

// Delete removes a memory row and its embedding. Returns false when the ID
// was not present.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, s.lockedErr("index.delete", err)
	}
	if _, err := s.db.Exec("DELETE FROM memory_vectors WHERE memory_id = ?", id); err != nil {
		return false, s.lockedErr("index.delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// SearchVector returns the nearest memories to the query embedding,
// ascending by cosine distance, with filters applied in the same query.
func (s *Store) SearchVector(embedding []float32, filters Filters, limit int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	embJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, memory.NewIndexError("index.search", "the query embedding could not be serialized", err)
	}

	query := `
		SELECT v.memory_id, vec_distance_cosine(v.embedding, ?) AS distance
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE 1=1`
	args := []any{string(embJSON)}

	if filters.Namespace != "" {
		query += " AND m.namespace = ?"
		args = append(args, string(filters.Namespace))
	}
	if filters.Spec != "" {
		query += " AND m.spec = ?"
		args = append(args, filters.Spec)
	}
	if !filters.Since.IsZero() {
		query += " AND m.timestamp_ms >= ?"
		args = append(args, filters.Since.UnixMilli())
	}
	if !filters.Until.IsZero() {
		query += " AND m.timestamp_ms <= ?"
		args = append(args, filters.Until.UnixMilli())
	}

	query += " ORDER BY distance ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, s.lockedErr("index.search", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, memory.NewIndexError("index.search", "run a full reindex if the index is corrupt", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// AllIDs returns the set of indexed memory IDs.
func (s *Store) AllIDs() (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id FROM memories")
	if err != nil {
		return nil, s.lockedErr("index.allids", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memory.NewIndexError("index.allids", "run a full reindex if the index is corrupt", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Clear drops every row and embedding. The log remains untouched; this is
// always recoverable by a full reindex.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM memories"); err != nil {
		return s.lockedErr("index.clear", err)
	}
	if _, err := s.db.Exec("DELETE FROM memory_vectors"); err != nil {
		return s.lockedErr("index.clear", err)
	}
	return nil
}

// GetStats reports row counts by namespace and spec, file size, and the
// last write time.
func (s *Store) GetStats() (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &Stats{
		ByNamespace: make(map[memory.Namespace]int),
		BySpec:      make(map[string]int),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&stats.Total); err != nil {
		return nil, s.lockedErr("index.stats", err)
	}

	rows, err := s.db.Query("SELECT namespace, COUNT(*) FROM memories GROUP BY namespace")
	if err != nil {
		return nil, s.lockedErr("index.stats", err)
	}
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			rows.Close()
			return nil, memory.NewIndexError("index.stats", "run a full reindex if the index is corrupt", err)
		}
		stats.ByNamespace[memory.Namespace(ns)] = n
	}
	rows.Close()

	rows, err = s.db.Query("SELECT spec, COUNT(*) FROM memories WHERE spec != '' GROUP BY spec")
	if err != nil {
		return nil, s.lockedErr("index.stats", err)
	}
	for rows.Next() {
		var spec string
		var n int
		if err := rows.Scan(&spec, &n); err != nil {
			rows.Close()
			return nil, memory.NewIndexError("index.stats", "run a full reindex if the index is corrupt", err)
		}
		stats.BySpec[spec] = n
	}
	rows.Close()

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	var lastWrite string
	err = s.db.QueryRow("SELECT value FROM meta WHERE key = 'last_write'").Scan(&lastWrite)
	if err == nil {
		var ms int64
		if _, err := fmt.Sscanf(lastWrite, "%d", &ms); err == nil {
			stats.LastWrite = time.UnixMilli(ms)
		}
	}

	return stats, nil
}

// Dimension returns the embedding dimensionality the index was created with.
func (s *Store) Dimension() int { return s.dimension }

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, commit_sha, namespace, spec, phase, status, tags, relates_to, summary, content, timestamp_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var ns, tags, relates string
	var tsMs int64
	if err := row.Scan(&m.ID, &m.CommitSHA, &ns, &m.Spec, &m.Phase, &m.Status,
		&tags, &relates, &m.Summary, &m.Content, &tsMs); err != nil {
		return nil, err
	}
	m.Namespace = memory.Namespace(ns)
	m.Timestamp = time.UnixMilli(tsMs).UTC()
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(relates), &m.RelatesTo); err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalSets(m *memory.Memory) (tags, relates string, err error) {
	tagBytes, err := json.Marshal(orEmpty(m.Tags))
	if err != nil {
		return "", "", err
	}
	relBytes, err := json.Marshal(orEmpty(m.RelatesTo))
	if err != nil {
		return "", "", err
	}
	return string(tagBytes), string(relBytes), nil
}

func orEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// lockedErr distinguishes a database locked by another process from other
// index failures, since the remedy differs.
func (s *Store) lockedErr(op string, err error) error {
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "database is locked") {
		return memory.NewIndexError(op,
			"another process holds the index; wait and retry, or close other sessions", err)
	}
	return memory.NewIndexError(op,
		"the index may be corrupt; delete the file and run a full reindex", err)
}
