package audit

import "time"

// TimelineFilters narrows the audit timeline query.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is a single rendered row of the audit timeline.
type TimelineRow struct {
	At        time.Time
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	IP        string
	UserAgent string
}

// PagingInfo describes the position of a timeline page.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}
