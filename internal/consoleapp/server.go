package consoleapp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phillip-england/distconsole/internal/config"
	"github.com/phillip-england/distconsole/internal/hierarchy"
	"github.com/phillip-england/distconsole/internal/listctl"
	"github.com/phillip-england/distconsole/internal/middleware"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/screens"
	"github.com/phillip-england/distconsole/internal/session"
)

type server struct {
	cfg       config.Config
	api       *remote.Client
	reader    *session.Reader
	catalog   *screens.Catalog
	hierarchy *hierarchy.Service
	registry  *registry
	log       *slog.Logger
	now       func() time.Time
}

func newServer(cfg config.Config, api *remote.Client, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		cfg:       cfg,
		api:       api,
		reader:    session.NewReader(cfg.IdentityClaims),
		catalog:   screens.Default(),
		hierarchy: hierarchy.NewService(api),
		log:       logger.With("module", "consoleapp"),
		now:       time.Now,
	}
	notifier := listctl.NewLogNotifier(logger)
	s.registry = newRegistry(func(sc screens.Screen) *listctl.Controller {
		return listctl.New(sc.ControllerConfig(cfg.DefaultPageSize, notifier), api)
	})
	return s
}

// NewHandler builds the console's HTTP surface around a backend client.
func NewHandler(cfg config.Config, api *remote.Client, logger *slog.Logger) http.Handler {
	return newServer(cfg, api, logger).routes()
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger(s.log),
		middleware.Recover(s.log),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
			ContentSecurityPolicy: strings.Join([]string{
				"default-src 'self'",
				"style-src 'self' 'unsafe-inline'",
				"frame-ancestors 'none'",
			}, "; "),
			NoStore: true,
		}),
	)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/login", s.loginPage)
	r.Post("/login", s.login)
	r.Post("/logout", s.logout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/", s.indexPage)
		r.Get("/api/session", s.sessionInfo)
		r.Get("/api/screens", s.listScreens)
		r.Get("/api/screens/{screen}", s.screenView)
		r.Get("/api/screens/{screen}/export", s.screenExport)
		r.Post("/api/screens/{screen}", s.createRecord)
		r.Patch("/api/screens/{screen}/{id}", s.updateRecord)
		r.Delete("/api/screens/{screen}/{id}", s.deleteRecord)
		r.Post("/api/screens/{screen}/{id}/{action}", s.recordAction)
		r.Get("/api/hierarchy", s.hierarchyTree)
		r.Post("/api/hierarchy/moves", s.hierarchyMove)
	})
	return r
}

// Run serves the console until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	api := remote.New(cfg.APIBaseURL, cfg.APITimeout)

	httpServer := &http.Server{
		Addr:              cfg.ConsoleAddr,
		Handler:           NewHandler(cfg, api, logger),
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", "addr", cfg.ConsoleAddr, "api_base_url", cfg.APIBaseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
