// Package services holds the persistence services backing crawl history.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/crawlwatch/pkg/models"
)

const (
	// DefaultHistoryLimit is used when ListRecent is called without a limit.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit bounds a single ListRecent page.
	MaxHistoryLimit = 500

	writeTimeout = 5 * time.Second
)

const historyColumns = `id, session_id, start_url, status, started_at, ended_at,
	total_pages, total_documents, error_count, error`

// HistoryService records terminal crawl sessions and serves them back to the
// dashboard.
type HistoryService struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// NewHistoryService creates a HistoryService over a migrated database.
func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "history"),
	}
}

// Record stores a summary of a terminal session. Recording the same session
// twice keeps the first row.
func (s *HistoryService) Record(ctx context.Context, cs *models.CrawlSession) error {
	if cs == nil {
		return NewValidationError("session", "required")
	}
	if cs.SessionID == "" {
		return NewValidationError("session_id", "required")
	}
	if !cs.Phase.IsTerminal() {
		return NewValidationError("phase", fmt.Sprintf("%q is not terminal", cs.Phase))
	}

	var startedAt sql.NullTime
	if cs.StartedAt != nil {
		startedAt = sql.NullTime{Time: *cs.StartedAt, Valid: true}
	}
	endedAt := s.now()
	if cs.EndedAt != nil {
		endedAt = *cs.EndedAt
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`INSERT INTO crawl_history
			(session_id, start_url, status, started_at, ended_at, total_pages, total_documents, error_count, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING`,
		cs.SessionID, cs.TargetURL, string(cs.Phase), startedAt, endedAt,
		len(cs.Results), cs.DocumentCount(), cs.ErrorCount(), cs.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", cs.SessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("Session already recorded", "session_id", cs.SessionID)
		return nil
	}
	s.logger.Info("Recorded crawl session",
		"session_id", cs.SessionID, "status", cs.Phase, "pages", len(cs.Results))
	return nil
}

// Get returns the history row for one session.
func (s *HistoryService) Get(ctx context.Context, sessionID string) (*models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM crawl_history WHERE session_id = $1`, sessionID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return entry, nil
}

// ListRecent returns up to limit entries, newest first. A non-positive limit
// falls back to DefaultHistoryLimit.
func (s *HistoryService) ListRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM crawl_history ORDER BY ended_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan removes entries that ended before cutoff and returns how
// many were removed.
func (s *HistoryService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx, `DELETE FROM crawl_history WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted history: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*models.HistoryEntry, error) {
	var (
		e         models.HistoryEntry
		status    string
		startedAt sql.NullTime
	)
	if err := r.Scan(&e.ID, &e.SessionID, &e.StartURL, &status, &startedAt, &e.EndedAt,
		&e.TotalPages, &e.TotalDocuments, &e.ErrorCount, &e.Error); err != nil {
		return nil, err
	}
	e.Status = models.Phase(status)
	if startedAt.Valid {
		e.StartedAt = startedAt.Time
	}
	return &e, nil
}
