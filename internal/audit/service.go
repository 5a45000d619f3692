package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
)

// Repository provides read and retention access to audit_logs.
type Repository interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error)
	TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Result bundles timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// Service coordinates audit timeline reads and the retention sweep.
type Service struct {
	repo     Repository
	recorder *Recorder
	guard    *authz.Guard
}

// NewService constructs the audit service. The recorder may be nil in
// read-only contexts; the guard may be nil where only the scheduler
// triggers purges.
func NewService(repo Repository, recorder *Recorder, guard *authz.Guard) *Service {
	return &Service{repo: repo, recorder: recorder, guard: guard}
}

// Timeline fetches one page of audit rows. It asks for one extra row to
// detect whether a next page exists without a count query.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}

	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export fetches every matching row without paging, for CSV download.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.TimelineAll(ctx, filters)
}

// PurgeBefore is the operator-triggered purge. Unlike the scheduler path
// it passes through the action guard before any row is touched.
func (s *Service) PurgeBefore(ctx context.Context, actor *authz.Identity, cutoff time.Time) (int64, error) {
	if s.guard == nil {
		return 0, fmt.Errorf("audit: guard not configured")
	}
	if err := s.guard.Authorize(ctx, actor, authz.CapActionPurgeAudit); err != nil {
		return 0, err
	}
	return s.Purge(ctx, actor.ID, cutoff)
}

// Purge deletes entries older than the cutoff and records the sweep
// itself as an audit entry. actorID is zero when run by the scheduler.
func (s *Service) Purge(ctx context.Context, actorID int64, cutoff time.Time) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("audit: repository not configured")
	}
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, Entry{
			ActorID:  actorID,
			Action:   "audit.purge",
			Entity:   "audit_logs",
			EntityID: cutoff.UTC().Format(time.RFC3339),
			Meta:     map[string]any{"deleted": deleted},
		})
	}
	return deleted, nil
}
