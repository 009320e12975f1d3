// Package mockapi is an in-memory stand-in for the distribution platform's
// REST backend, for local development and end-to-end tests of the console.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/phillip-england/distconsole/internal/config"
	"github.com/phillip-england/distconsole/internal/middleware"
	"github.com/phillip-england/distconsole/internal/security"
)

type Config struct {
	Addr       string
	SigningKey string
	Username   string
	Password   string
	TokenTTL   time.Duration
}

// ConfigFrom picks the mock settings out of the shared configuration.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Addr:       cfg.MockAddr,
		SigningKey: cfg.MockSigningKey,
		Username:   cfg.MockUsername,
		Password:   cfg.MockPassword,
		TokenTTL:   cfg.MockTokenTTL,
	}
}

type operator struct {
	id       string
	username string
	hash     string
	name     string
}

type Server struct {
	key      []byte
	ttl      time.Duration
	operator operator
	store    *store
	log      *slog.Logger
	now      func() time.Time
}

type ctxKey struct{}

// New validates cfg, hashes the operator password and seeds the data set.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if strings.TrimSpace(cfg.Username) == "" || cfg.Password == "" {
		return nil, errors.New("MOCK_USERNAME and MOCK_PASSWORD are required")
	}
	if len(cfg.SigningKey) < 16 {
		return nil, errors.New("MOCK_SIGNING_KEY must be at least 16 characters")
	}
	hash, err := security.HashPassword(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("operator password: %w", err)
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		key: []byte(cfg.SigningKey),
		ttl: cfg.TokenTTL,
		operator: operator{
			id:       "OP001",
			username: strings.TrimSpace(cfg.Username),
			hash:     hash,
			name:     "Console Operator",
		},
		store: newStore(),
		log:   logger.With("module", "mockapi"),
		now:   time.Now,
	}
	s.store.seed(s.now())
	return s, nil
}

// Handler is the mock's routes wrapped in the shared request middleware.
func (s *Server) Handler() http.Handler {
	return middleware.Chain(s.routes(), middleware.RequestID, middleware.Logger(s.log), middleware.Recover(s.log))
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/auth/me", s.me)

		r.Get("/fund-requests", s.list(colFundRequests, envelopeDataPlural("fundRequests")))
		r.Post("/fund-requests", s.createFundRequest)
		r.Patch("/fund-requests/{id}", s.decideFundRequest)

		r.Get("/transactions/payout", s.list(colPayout, envelopeBare))
		r.Post("/transactions/payout/{id}/status-check", s.statusCheck)
		r.Get("/transactions/recharge", s.list(colRecharge, envelopeData))
		r.Get("/transactions/dmt", s.list(colDMT, envelopeSingularItems("dmtTransaction")))
		r.Get("/transactions/aeps", s.list(colAEPS, envelopePlural("aepsTransactions")))
		r.Get("/transactions/bbps", s.list(colBBPS, envelopeItems))

		r.Get("/tickets", s.list(colTickets, envelopeDataItems))
		r.Patch("/tickets/{id}", s.clearTicket)

		r.Get("/bank-accounts", s.list(colBankAccounts, envelopeDataPlural("bankAccounts")))
		r.Post("/bank-accounts", s.createBankAccount)
		r.Patch("/bank-accounts/{id}", s.updateBankAccount)
		r.Delete("/bank-accounts/{id}", s.deleteBankAccount)

		for _, t := range memberTiers {
			r.Get("/"+t.col, s.list(t.col, envelopeData))
			r.Patch("/"+t.col+"/{id}", s.reassignMember(t))
			r.Patch("/"+t.col+"/{id}/status", s.setMemberField(t.col, "status", "ACTIVE", "INACTIVE"))
			r.Patch("/"+t.col+"/{id}/kyc", s.setMemberField(t.col, "kyc_status", "APPROVED", "REJECTED", "PENDING"))
		}

		r.Get("/api-credentials", s.list(colCredentials, envelopePlural("apiCredentials")))
		r.Post("/api-credentials", s.createCredential)
		r.Post("/api-credentials/{id}/regenerate", s.regenerateCredential)
		r.Delete("/api-credentials/{id}", s.revokeCredential)
	})
	return r
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) != s.operator.username || !security.VerifyPassword(req.Password, s.operator.hash) {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	token, expires, err := s.issue()
	if err != nil {
		s.log.Error("sign token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"data": map[string]any{
			"token":     token,
			"expiresAt": expires.Format(time.RFC3339),
			"user":      map[string]string{"id": s.operator.id, "name": s.operator.name, "role": "ADMIN"},
		},
	})
}

func (s *Server) issue() (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   s.operator.id,
		"sub":  s.operator.username,
		"name": s.operator.name,
		"role": "ADMIN",
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
	})
	signed, err := token.SignedString(s.key)
	return signed, expires, err
}

// requireToken verifies the bearer token's signature and expiry.
func (s *Server) requireToken(next http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return s.key, nil
		})
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := r.Context().Value(ctxKey{}).(jwt.MapClaims)
	writeJSON(w, http.StatusOK, map[string]any{"data": claims})
}

// Run serves the mock backend until ctx is cancelled.
func Run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	srv, err := New(cfg, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.log.Info("mock api listening", "addr", cfg.Addr)
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
