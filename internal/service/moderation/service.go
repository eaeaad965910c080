// Package moderation decides who may message whom and records blocks and reports.
package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/roomwire/internal/store"
)

// Common errors for moderation operations.
var (
	ErrCannotTargetSelf = errors.New("cannot block or report yourself")
	ErrUserNotFound     = errors.New("user not found")
)

// Store is the subset of the persistence gateway the service needs.
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	CreateBlock(ctx context.Context, blockerID, blockedID int64) error
	DeleteBlock(ctx context.Context, blockerID, blockedID int64) error
	IsBlocking(ctx context.Context, blockerID, blockedID int64) (bool, error)
	CreateReport(ctx context.Context, reporterID, reportedID int64, reason, description string) (*store.Report, error)
	HasReported(ctx context.Context, reporterID, reportedID int64) (bool, error)
}

// Status is the block relation between a viewer and another user, seen from the viewer.
type Status struct {
	IsBlocking  bool
	IsBlockedBy bool
}

// CanSend reports whether messages may flow in either direction.
func (s Status) CanSend() bool {
	return !s.IsBlocking && !s.IsBlockedBy
}

// Service evaluates block/report state on every call; nothing is cached.
type Service struct {
	store Store
}

// New creates a new moderation service.
func New(st Store) *Service {
	return &Service{store: st}
}

// Status loads both block directions between viewer and other.
func (s *Service) Status(ctx context.Context, viewerID, otherID int64) (Status, error) {
	blocking, err := s.store.IsBlocking(ctx, viewerID, otherID)
	if err != nil {
		return Status{}, fmt.Errorf("check blocking: %w", err)
	}
	blockedBy, err := s.store.IsBlocking(ctx, otherID, viewerID)
	if err != nil {
		return Status{}, fmt.Errorf("check blocked by: %w", err)
	}
	return Status{IsBlocking: blocking, IsBlockedBy: blockedBy}, nil
}

// CanSend is false when a blocks b or b blocks a.
func (s *Service) CanSend(ctx context.Context, a, b int64) (bool, error) {
	st, err := s.Status(ctx, a, b)
	if err != nil {
		return false, err
	}
	return st.CanSend(), nil
}

// ShouldHide is true only when viewer both blocks and has reported other.
// Blocking alone keeps the conversation visible.
func (s *Service) ShouldHide(ctx context.Context, viewerID, otherID int64) (bool, error) {
	blocking, err := s.store.IsBlocking(ctx, viewerID, otherID)
	if err != nil {
		return false, fmt.Errorf("check blocking: %w", err)
	}
	if !blocking {
		return false, nil
	}
	reported, err := s.store.HasReported(ctx, viewerID, otherID)
	if err != nil {
		return false, fmt.Errorf("check reported: %w", err)
	}
	return reported, nil
}

// Block records userID -> targetID. Blocking twice is not an error.
func (s *Service) Block(ctx context.Context, userID, targetID int64) (Status, error) {
	if err := s.checkTarget(ctx, userID, targetID); err != nil {
		return Status{}, err
	}
	if err := s.store.CreateBlock(ctx, userID, targetID); err != nil && !errors.Is(err, store.ErrConflict) {
		return Status{}, fmt.Errorf("create block: %w", err)
	}
	return s.Status(ctx, userID, targetID)
}

// Unblock removes userID -> targetID. Unblocking a user who is not blocked is not an error.
func (s *Service) Unblock(ctx context.Context, userID, targetID int64) (Status, error) {
	if err := s.checkTarget(ctx, userID, targetID); err != nil {
		return Status{}, err
	}
	if err := s.store.DeleteBlock(ctx, userID, targetID); err != nil {
		return Status{}, fmt.Errorf("delete block: %w", err)
	}
	return s.Status(ctx, userID, targetID)
}

// Report files a report against targetID and returns whether the reporter
// should now stop seeing the conversation.
func (s *Service) Report(ctx context.Context, userID, targetID int64, reason, description string) (*store.Report, bool, error) {
	if err := s.checkTarget(ctx, userID, targetID); err != nil {
		return nil, false, err
	}
	if reason == "" {
		reason = "other"
	}
	report, err := s.store.CreateReport(ctx, userID, targetID, reason, description)
	if err != nil {
		return nil, false, fmt.Errorf("create report: %w", err)
	}
	hide, err := s.ShouldHide(ctx, userID, targetID)
	if err != nil {
		return nil, false, err
	}
	return report, hide, nil
}

func (s *Service) checkTarget(ctx context.Context, userID, targetID int64) error {
	if userID == targetID {
		return ErrCannotTargetSelf
	}
	if _, err := s.store.GetUserByID(ctx, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("get target user: %w", err)
	}
	return nil
}
