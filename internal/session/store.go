package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CookieName is the fixed key the console keeps the bearer token under.
const CookieName = "distconsole_token"

// Store holds the one stored credential. Login and logout are the only writers.
type Store interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileStore keeps the token in a 0600 file, for the CLI.
type FileStore struct {
	Path string
}

func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "distconsole", "token")
}

func (s FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrUnauthenticated
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}

func (s FileStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	return os.WriteFile(s.Path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}

func (s FileStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CookieStore reads and writes the token cookie for one request/response pair.
type CookieStore struct {
	W      http.ResponseWriter
	R      *http.Request
	Secure bool
}

func (s CookieStore) Load() (string, error) {
	c, err := s.R.Cookie(CookieName)
	if err != nil || strings.TrimSpace(c.Value) == "" {
		return "", ErrUnauthenticated
	}
	return c.Value, nil
}

func (s CookieStore) Save(token string) error {
	http.SetCookie(s.W, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s CookieStore) Clear() error {
	http.SetCookie(s.W, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Current loads the stored token and reads it. An unusable token is cleared
// from the store before ErrUnauthenticated is returned.
func Current(store Store, reader *Reader) (Session, error) {
	token, err := store.Load()
	if err != nil {
		return Session{}, err
	}
	s, err := reader.Read(token)
	if err != nil {
		if clearErr := store.Clear(); clearErr != nil {
			return Session{}, errors.Join(err, clearErr)
		}
		return Session{}, err
	}
	return s, nil
}
