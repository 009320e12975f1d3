package consoleapp

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/session"
)

var loginTmpl = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Sign in · Distribution Console</title></head>
<body>
<main>
<h1>Distribution Console</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
<form method="post" action="/login">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>
</main>
</body>
</html>
`))

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Distribution Console</title></head>
<body>
<main>
<p>Signed in as {{.Identity}}{{if .Role}} ({{.Role}}){{end}}.</p>
<ul>
{{range .Screens}}<li><a href="/api/screens/{{.Name}}">{{.Title}}</a> · <a href="/api/screens/{{.Name}}/export?format=xlsx">xlsx</a> · <a href="/api/screens/{{.Name}}/export?format=csv">csv</a></li>
{{end}}<li><a href="/api/hierarchy">Hierarchy</a></li>
</ul>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
</main>
</body>
</html>
`))

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *server) cookies(w http.ResponseWriter, r *http.Request) session.CookieStore {
	return session.CookieStore{W: w, R: r, Secure: s.cfg.SecureCookies}
}

// requireSession puts the acting session on the request context. An
// unusable token is cleared and the operator is sent to log in.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		store := s.cookies(w, r)
		token, _ := store.Load()
		sess, err := session.Current(store, s.reader)
		if err != nil {
			if token != "" {
				if stale, readErr := s.reader.ReadExpired(token); readErr == nil {
					s.registry.drop(stale.Identity)
				}
			}
			s.unauthenticated(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

func (s *server) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "Your session has expired. Please sign in again.",
			"login": "/login",
		})
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// endSession clears the cookie and drops the operator's controllers after
// the backend rejected their token.
func (s *server) endSession(w http.ResponseWriter, r *http.Request, sess session.Session) {
	_ = s.cookies(w, r).Clear()
	s.registry.drop(sess.Identity)
	s.unauthenticated(w, r)
}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := session.Current(s.cookies(w, r), s.reader); err == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginTmpl.Execute(w, map[string]string{"Error": r.URL.Query().Get("error")}); err != nil {
		s.log.Error("login template render failed", "error", err)
	}
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	jsonRequest := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	fail := func(status int, msg string) {
		if jsonRequest {
			writeJSON(w, status, map[string]string{"error": msg})
			return
		}
		http.Redirect(w, r, "/login?error="+url.QueryEscape(msg), http.StatusFound)
	}

	var req loginRequest
	if jsonRequest {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			fail(http.StatusBadRequest, "Invalid login payload.")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			fail(http.StatusBadRequest, "Invalid form submission.")
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		fail(http.StatusBadRequest, "Username and password are required.")
		return
	}

	token, err := s.api.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		var fe *remote.FetchError
		switch {
		case errors.Is(err, session.ErrUnauthenticated):
			fail(http.StatusUnauthorized, "Invalid credentials.")
		case errors.As(err, &fe) && !fe.Transport && fe.Status >= 400 && fe.Status < 500:
			fail(fe.Status, fe.Message)
		default:
			s.log.Warn("login failed", "error", err)
			fail(http.StatusBadGateway, remote.GenericMessage)
		}
		return
	}

	sess, err := s.reader.Read(token)
	if err != nil {
		s.log.Warn("backend issued an unusable token", "error", err)
		fail(http.StatusBadGateway, "The server issued an unusable session.")
		return
	}
	_ = s.cookies(w, r).Save(token)
	s.log.Info("operator signed in", "identity", sess.Identity, "role", sess.Role)

	if jsonRequest {
		writeJSON(w, http.StatusOK, sessionView(sess))
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	store := s.cookies(w, r)
	if token, err := store.Load(); err == nil {
		if sess, err := s.reader.ReadExpired(token); err == nil {
			n := s.registry.drop(sess.Identity)
			s.log.Info("operator signed out", "identity", sess.Identity, "controllers_dropped", n)
		}
	}
	_ = store.Clear()
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *server) indexPage(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := map[string]any{"Identity": sess.Identity, "Role": sess.Role, "Screens": s.catalog.All()}
	if err := indexTmpl.Execute(w, data); err != nil {
		s.log.Error("index template render failed", "error", err)
	}
}

func (s *server) sessionInfo(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, sessionView(sess))
}

func sessionView(sess session.Session) map[string]any {
	return map[string]any{
		"identity":  sess.Identity,
		"role":      sess.Role,
		"name":      sess.Name,
		"expiresAt": sess.ExpiresAt,
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
