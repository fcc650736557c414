package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ListRepository exposes the read side of the audit store.
type ListRepository interface {
	ListAccessLogs(ctx context.Context, f AccessLogFilters, limit, offset int) ([]AccessLog, error)
	ListPolicyViolations(ctx context.Context, userID *int64, limit, offset int) ([]PolicyViolation, error)
	ListChanges(ctx context.Context, f ChangeFilters, limit, offset int) ([]Change, error)
}

// AccessLogFilters narrows access log listings.
type AccessLogFilters struct {
	From     time.Time
	To       time.Time
	UserID   *int64
	Decision string
	Path     string
	Page     int
	PageSize int
}

func (f AccessLogFilters) from() *time.Time { return nullTimePtr(f.From) }
func (f AccessLogFilters) to() *time.Time   { return nullTimePtr(f.To) }

// ChangeFilters narrows change history listings.
type ChangeFilters struct {
	From     time.Time
	To       time.Time
	ActorID  *int64
	Table    string
	Action   string
	Page     int
	PageSize int
}

func (f ChangeFilters) from() *time.Time { return nullTimePtr(f.From) }
func (f ChangeFilters) to() *time.Time   { return nullTimePtr(f.To) }

// PagingInfo describes the position of one listing page.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// AccessLogResult wraps one page of access logs.
type AccessLogResult struct {
	Rows   []AccessLog `json:"rows"`
	Paging PagingInfo  `json:"paging"`
}

// ChangeResult wraps one page of change history.
type ChangeResult struct {
	Rows   []Change   `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Service coordinates read access to the audit trail.
type Service struct {
	repo ListRepository
}

// NewService constructs an audit listing service.
func NewService(repo ListRepository) *Service {
	return &Service{repo: repo}
}

// AccessLogs returns decision records with paging.
func (s *Service) AccessLogs(ctx context.Context, f AccessLogFilters) (AccessLogResult, error) {
	if s.repo == nil {
		return AccessLogResult{}, fmt.Errorf("audit: repository not configured")
	}
	page, pageSize := clampPaging(f.Page, f.PageSize)
	f.Decision = strings.TrimSpace(f.Decision)
	f.Path = strings.TrimSpace(f.Path)
	rows, err := s.repo.ListAccessLogs(ctx, f, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return AccessLogResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return AccessLogResult{Rows: rows, Paging: pagingInfo(page, pageSize, hasNext)}, nil
}

// PolicyViolations returns violation records with paging.
func (s *Service) PolicyViolations(ctx context.Context, userID *int64, page, pageSize int) ([]PolicyViolation, PagingInfo, error) {
	if s.repo == nil {
		return nil, PagingInfo{}, fmt.Errorf("audit: repository not configured")
	}
	page, pageSize = clampPaging(page, pageSize)
	rows, err := s.repo.ListPolicyViolations(ctx, userID, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return nil, PagingInfo{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return rows, pagingInfo(page, pageSize, hasNext), nil
}

// Changes returns mutation records with paging.
func (s *Service) Changes(ctx context.Context, f ChangeFilters) (ChangeResult, error) {
	if s.repo == nil {
		return ChangeResult{}, fmt.Errorf("audit: repository not configured")
	}
	page, pageSize := clampPaging(f.Page, f.PageSize)
	f.Table = strings.TrimSpace(f.Table)
	f.Action = strings.TrimSpace(f.Action)
	rows, err := s.repo.ListChanges(ctx, f, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return ChangeResult{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	return ChangeResult{Rows: rows, Paging: pagingInfo(page, pageSize, hasNext)}, nil
}

func clampPaging(page, pageSize int) (int, int) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, pageSize
}

func pagingInfo(page, pageSize int, hasNext bool) PagingInfo {
	info := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		info.PrevPage = page - 1
	}
	if hasNext {
		info.NextPage = page + 1
	}
	return info
}

func nullTimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullTime(t time.Time) *time.Time {
	return nullTimePtr(t)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func errUnknownTable(table string) error {
	return fmt.Errorf("audit: unknown retention table %q", table)
}
