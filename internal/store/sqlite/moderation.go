package sqlite

import (
	"context"
	"fmt"

	"github.com/vovakirdan/roomwire/internal/store"
)

// ==== ModerationStore implementation ====

// CreateBlock records that blocker blocks blocked. Repeating it is a no-op.
func (s *SQLiteStore) CreateBlock(ctx context.Context, blockerID, blockedID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocks (blocker_id, blocked_id, created_at)
		VALUES (?, ?, ?)
	`, blockerID, blockedID, s.now())
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// DeleteBlock removes the block edge if present.
func (s *SQLiteStore) DeleteBlock(ctx context.Context, blockerID, blockedID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM blocks WHERE blocker_id = ? AND blocked_id = ?
	`, blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// IsBlocking reports whether blocker blocks blocked.
func (s *SQLiteStore) IsBlocking(ctx context.Context, blockerID, blockedID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker_id = ? AND blocked_id = ?)
	`, blockerID, blockedID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query block: %w", err)
	}
	return exists == 1, nil
}

// CreateReport files a report, or returns the existing one for the same pair.
func (s *SQLiteStore) CreateReport(ctx context.Context, reporterID, reportedID int64, reason, description string) (*store.Report, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reports (reporter_id, reported_id, reason, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, reporterID, reportedID, reason, description, s.now())
	if err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	var r store.Report
	err = s.db.QueryRowContext(ctx, `
		SELECT id, reporter_id, reported_id, reason, description, is_resolved, created_at
		FROM reports
		WHERE reporter_id = ? AND reported_id = ?
	`, reporterID, reportedID).Scan(
		&r.ID, &r.ReporterID, &r.ReportedID, &r.Reason, &r.Description, &r.IsResolved, &r.CreatedAt,
	)
	if err != nil {
		return nil, notFound("report", err)
	}
	return &r, nil
}

// HasReported reports whether reporter already filed a report against reported.
func (s *SQLiteStore) HasReported(ctx context.Context, reporterID, reportedID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM reports WHERE reporter_id = ? AND reported_id = ?)
	`, reporterID, reportedID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query report: %w", err)
	}
	return exists == 1, nil
}
