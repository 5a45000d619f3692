package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
)

// Entry is a single append-only record in audit_logs. Entries are never
// updated or deleted by application code; the retention sweep is the one
// administrative exception and is itself audited.
type Entry struct {
	ActorID   int64
	Action    string
	Entity    string
	EntityID  string
	Meta      map[string]any
	IP        string
	UserAgent string
	At        time.Time
}

// execer is the slice of pgxpool.Pool the recorder needs, kept narrow so
// tests can substitute a stub.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder appends entries to audit_logs. Writes are best-effort: a
// failure is logged for operational alerting but never surfaces to the
// gated operation.
type Recorder struct {
	db     execer
	logger *slog.Logger
}

// NewRecorder constructs a Recorder over the connection pool.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: pool, logger: logger}
}

// Record appends the entry. Invalid or failed writes are logged, not
// returned, so callers cannot be blocked by the audit trail.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if err := r.write(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			slog.String("action", entry.Action),
			slog.String("entity", entry.Entity),
			slog.Any("error", err))
	}
}

// RecordDecision implements authz.DecisionRecorder, translating a denied
// authorization decision into an audit entry.
func (r *Recorder) RecordDecision(ctx context.Context, d authz.Decision, ip, ua string) {
	var actorID int64
	if d.Identity != nil {
		actorID = d.Identity.ID
	}
	r.Record(ctx, Entry{
		ActorID:  actorID,
		Action:   "authz.deny",
		Entity:   "capability",
		EntityID: string(d.Capability),
		Meta: map[string]any{
			"reason": string(d.Reason),
			"kind":   d.Capability.Kind(),
		},
		IP:        ip,
		UserAgent: ua,
	})
}

func (r *Recorder) write(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit recorder not initialised")
	}
	if entry.Action == "" || entry.Entity == "" {
		return errors.New("audit entry requires action and entity")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, ip, user_agent, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.IP, entry.UserAgent, at)
	return err
}

var _ authz.DecisionRecorder = (*Recorder)(nil)
