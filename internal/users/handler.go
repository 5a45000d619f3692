package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
	"github.com/quarterdeck-app/quarterdeck/internal/view"
)

// Handler manages user management endpoints. The route guard wraps the
// whole mount; the service re-checks each mutation with the action guard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers user management routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listUsers)
	r.Post("/{id}/role", h.changeRole)
	r.Post("/{id}/active", h.setActive)
	r.Post("/{id}/delete", h.deleteUser)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ListQuery{
		Search:  q.Get("q"),
		SortBy:  q.Get("sort"),
		SortDir: q.Get("dir"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		query.Page = page
	}

	listing, err := h.service.List(r.Context(), query)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.render(w, r, map[string]any{
			"Error": shared.UserSafeMessage(err),
			"Query": query,
		}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, map[string]any{
		"Users":      listing.Users,
		"Pagination": listing.Pagination,
		"Query":      query,
		"Actor":      authz.IdentityFromContext(r.Context()),
	}, http.StatusOK)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetID(w, r)
	if !ok {
		return
	}
	// Strict parse: the form offers a closed set, so anything else is a
	// garbled or forged request, never a silent demotion to the default.
	role := authz.Role(strings.ToLower(strings.TrimSpace(r.PostFormValue("role"))))
	if !role.Valid() {
		h.redirectWithFlash(w, r, "error", "Unknown role")
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	if err := h.service.ChangeRole(r.Context(), actor, userID, role); err != nil {
		h.mutationError(w, r, "change role", err)
		return
	}
	h.redirectWithFlash(w, r, "success", "Role updated")
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetID(w, r)
	if !ok {
		return
	}
	active := r.PostFormValue("active") == "true"
	actor := authz.IdentityFromContext(r.Context())
	if err := h.service.SetActive(r.Context(), actor, userID, active); err != nil {
		h.mutationError(w, r, "set active", err)
		return
	}
	message := "Account deactivated"
	if active {
		message = "Account reactivated"
	}
	h.redirectWithFlash(w, r, "success", message)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetID(w, r)
	if !ok {
		return
	}
	actor := authz.IdentityFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, userID); err != nil {
		h.mutationError(w, r, "delete user", err)
		return
	}
	h.redirectWithFlash(w, r, "success", "Account deleted")
}

func (h *Handler) targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// mutationError maps the action-guard taxonomy onto user-visible flows:
// unauthenticated prompts a sign-in, unauthorized lands on the forbidden
// page, everything else flashes a message back onto the listing.
func (h *Handler) mutationError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated):
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
	case errors.Is(err, authz.ErrUnauthorized):
		http.Redirect(w, r, "/forbidden", http.StatusSeeOther)
	case errors.Is(err, ErrSelfAction):
		h.redirectWithFlash(w, r, "error", "You cannot do that to your own account")
	case errors.Is(err, shared.ErrNotFound):
		h.redirectWithFlash(w, r, "error", "User not found")
	default:
		h.logger.Error(op, slog.Any("error", err))
		h.redirectWithFlash(w, r, "error", shared.UserSafeMessage(err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: "Users", CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/users/list.html", viewData); err != nil {
		h.logger.Error("render users list", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, "/admin/users", http.StatusSeeOther)
}
