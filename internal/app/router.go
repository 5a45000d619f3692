package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/quarterdeck-app/quarterdeck/internal/audit"
	"github.com/quarterdeck-app/quarterdeck/internal/auth"
	"github.com/quarterdeck-app/quarterdeck/internal/authz"
	"github.com/quarterdeck-app/quarterdeck/internal/observability"
	"github.com/quarterdeck-app/quarterdeck/internal/platform/httpx"
	"github.com/quarterdeck-app/quarterdeck/internal/shared"
	"github.com/quarterdeck-app/quarterdeck/internal/users"
	"github.com/quarterdeck-app/quarterdeck/internal/view"
	"github.com/quarterdeck-app/quarterdeck/jobs"
	"github.com/quarterdeck-app/quarterdeck/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Guard          *authz.Guard
	AuthHandler    *auth.Handler
	UsersHandler   *users.Handler
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with Quarterdeck defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Landing page for unauthenticated users.
	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		renderPage(params, w, r, "pages/landing.html", "Quarterdeck", nil)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			http.Redirect(w, r, "/welcome", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})

	r.Get("/forbidden", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		renderPage(params, w, r, "pages/forbidden.html", "Access denied", nil)
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.Guard.RequireRoute(authz.CapRouteDashboard))
		r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
			identity := authz.IdentityFromContext(r.Context())
			renderPage(params, w, r, "pages/dashboard.html", "Dashboard", map[string]any{
				"Identity": identity,
			})
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(params.Guard.RequireRoute(authz.CapRouteAdmin))
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				renderPage(params, w, r, "pages/admin.html", "Administration", nil)
			})
		})
		r.Route("/users", func(r chi.Router) {
			r.Use(params.Guard.RequireRoute(authz.CapRouteAdminUsers))
			params.UsersHandler.MountRoutes(r)
		})
		r.Route("/audit", func(r chi.Router) {
			r.Use(params.Guard.RequireRoute(authz.CapRouteAdminAudit))
			params.AuditHandler.MountRoutes(r)
		})
	})

	if params.JobHandler != nil {
		// Queue depth is operational detail, so the jobs surface is
		// admin-only like the rest of the back office.
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.Guard.RequireRoute(authz.CapRouteJobs))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		// Static files skip session and CSRF concerns, but keep cache headers.
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func renderPage(params RouterParams, w http.ResponseWriter, r *http.Request, page, title string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	if err := params.Templates.Render(w, page, view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}); err != nil {
		params.Logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
