// Package docstore persists document metadata and question/answer logs.
//
// Each tenant gets its own SQLite database file, so tenant data is
// physically separated on disk in addition to the payload filtering in
// the vector store. The Manager owns the per-tenant handles.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var (
	// ErrDocumentNotFound indicates an unknown document ID.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrLogNotFound indicates an unknown QA log entry.
	ErrLogNotFound = errors.New("qa log entry not found")

	// ErrInvalidTransition indicates a disallowed document status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Document statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusError      = "error"
)

// validTransitions is the document status machine. Error and ready are
// re-enterable from processing so re-ingestion can run over an existing
// document.
var validTransitions = map[string][]string{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusProcessing},
	StatusError:      {StatusProcessing},
}

// Document is stored document metadata. Content lives in the vector
// store as chunks; this row tracks lifecycle and accounting.
type Document struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	ChunkCount int       `json:"chunk_count"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QALog is one answered (or refused) question.
type QALog struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	Fallback   bool      `json:"fallback"`
	Citations  []string  `json:"citations,omitempty"`
	Flagged    bool      `json:"flagged"`
	Reviewed   bool      `json:"reviewed"`
	ReviewNote string    `json:"review_note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const docSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	status      TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS qa_logs (
	id          TEXT PRIMARY KEY,
	question    TEXT NOT NULL,
	answer      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	fallback    INTEGER NOT NULL DEFAULT 0,
	citations   TEXT NOT NULL DEFAULT '[]',
	flagged     INTEGER NOT NULL DEFAULT 0,
	reviewed    INTEGER NOT NULL DEFAULT 0,
	review_note TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_qa_logs_flagged ON qa_logs(flagged);
`

// Store is one tenant's document database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens a store over an existing database handle and applies
// the schema.
func NewStore(db *sql.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.Exec(docSchema); err != nil {
		return nil, fmt.Errorf("applying docstore schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// CreateDocument inserts a pending document and returns it.
func (s *Store) CreateDocument(ctx context.Context, title string) (*Document, error) {
	now := time.Now().UTC()
	doc := Document{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, status, chunk_count, error, created_at, updated_at) VALUES (?, ?, ?, 0, '', ?, ?)`,
		doc.ID, doc.Title, doc.Status, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return &doc, nil
}

// GetDocument fetches a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, chunk_count, error, created_at, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.Title, &doc.Status, &doc.ChunkCount, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document %s: %w", id, err)
	}
	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, chunk_count, error, created_at, updated_at FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Status, &doc.ChunkCount, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// SetStatus transitions a document through the status machine.
// chunkCount is recorded on ready; errMsg on error.
func (s *Store) SetStatus(ctx context.Context, id, status string, chunkCount int, errMsg string) error {
	doc, err := s.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	allowed := false
	for _, next := range validTransitions[doc.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, status)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, chunkCount, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating document %s: %w", id, err)
	}

	s.logger.Debug("document status changed",
		zap.String("document_id", id),
		zap.String("from", doc.Status),
		zap.String("to", status),
		zap.Int("chunk_count", chunkCount),
	)
	return nil
}

// DeleteDocument removes a document row. Vector store cleanup is the
// caller's responsibility.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

// AppendQALog records an answered question.
func (s *Store) AppendQALog(ctx context.Context, entry QALog) (*QALog, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	citations, err := json.Marshal(entry.Citations)
	if err != nil {
		return nil, fmt.Errorf("encoding citations: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qa_logs (id, question, answer, confidence, fallback, citations, flagged, reviewed, review_note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Question, entry.Answer, entry.Confidence, entry.Fallback,
		string(citations), entry.Flagged, entry.Reviewed, entry.ReviewNote, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting qa log: %w", err)
	}
	return &entry, nil
}

// ListQALogs returns QA entries, newest first. flaggedOnly narrows to
// entries awaiting review.
func (s *Store) ListQALogs(ctx context.Context, flaggedOnly bool, limit int) ([]QALog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, question, answer, confidence, fallback, citations, flagged, reviewed, review_note, created_at FROM qa_logs`
	if flaggedOnly {
		query += ` WHERE flagged = 1 AND reviewed = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing qa logs: %w", err)
	}
	defer rows.Close()

	var entries []QALog
	for rows.Next() {
		var entry QALog
		var citations string
		if err := rows.Scan(&entry.ID, &entry.Question, &entry.Answer, &entry.Confidence, &entry.Fallback,
			&citations, &entry.Flagged, &entry.Reviewed, &entry.ReviewNote, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning qa log: %w", err)
		}
		if err := json.Unmarshal([]byte(citations), &entry.Citations); err != nil {
			return nil, fmt.Errorf("decoding citations: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// FlagQALog marks an entry for human review.
func (s *Store) FlagQALog(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE qa_logs SET flagged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("flagging qa log %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLogNotFound, id)
	}
	return nil
}

// ReviewQALog resolves a flagged entry with a reviewer note.
func (s *Store) ReviewQALog(ctx context.Context, id, note string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE qa_logs SET reviewed = 1, review_note = ? WHERE id = ?`, note, id)
	if err != nil {
		return fmt.Errorf("reviewing qa log %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLogNotFound, id)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
