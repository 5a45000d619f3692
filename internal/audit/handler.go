package audit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
	"github.com/quarterdeck-app/quarterdeck/internal/view"
)

// Handler serves the audit timeline viewer and CSV export.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers audit viewer routes. The caller guards the group.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showTimeline)
	r.Get("/export.csv", h.exportCSV)
	r.Post("/purge", h.purge)
}

func (h *Handler) showTimeline(w http.ResponseWriter, r *http.Request) {
	filters := filtersFromQuery(r)
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		h.render(w, r, map[string]any{
			"Error":   shared.UserSafeMessage(err),
			"Filters": filters,
		}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, map[string]any{
		"Rows":    result.Rows,
		"Paging":  result.Paging,
		"Filters": filters,
	}, http.StatusOK)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Export(r.Context(), filtersFromQuery(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-log.csv"`)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"occurred_at", "actor_id", "action", "entity", "entity_id", "ip", "user_agent"})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.Action,
			row.Entity,
			row.EntityID,
			row.IP,
			row.UserAgent,
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		h.logger.Error("audit export flush", slog.Any("error", err))
	}
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.PostFormValue("older_than_days"))
	if err != nil || days <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted, err := h.service.PurgeBefore(r.Context(), actor, cutoff)
	if err != nil {
		switch {
		case errors.Is(err, authz.ErrUnauthenticated):
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		case errors.Is(err, authz.ErrUnauthorized):
			http.Redirect(w, r, "/forbidden", http.StatusSeeOther)
		default:
			h.logger.Error("audit purge", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{
			Kind:    "success",
			Message: fmt.Sprintf("Purged %d audit entries older than %d days", deleted, days),
		})
	}
	http.Redirect(w, r, "/admin/audit", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Audit log", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/audit/list.html", viewData); err != nil {
		h.logger.Error("render audit list", slog.Any("error", err))
	}
}

func filtersFromQuery(r *http.Request) TimelineFilters {
	q := r.URL.Query()
	filters := TimelineFilters{
		Actor:  q.Get("actor"),
		Entity: q.Get("entity"),
		Action: q.Get("action"),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filters.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			// Inclusive end of day.
			filters.To = t.Add(24*time.Hour - time.Second)
		}
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filters.PageSize = size
	}
	return filters
}
