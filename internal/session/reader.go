package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/phillip-england/distconsole/internal/report"
)

// ErrUnauthenticated means there is no usable session: the token is missing,
// undecodable, carries no identity, or has expired. Callers discard the stored
// token and send the operator to the login flow.
var ErrUnauthenticated = errors.New("unauthenticated")

var DefaultIdentityClaims = []string{"id", "user_id", "sub"}

// Session is what a screen needs to act on behalf of the operator.
type Session struct {
	Identity  string
	Role      string
	Name      string
	ExpiresAt time.Time
	Token     string
}

// Reader decodes bearer tokens without verifying their signature. The
// backend verifies on every call; the console only needs the claims.
type Reader struct {
	IdentityClaims []string
	Now            func() time.Time

	parser *jwt.Parser
}

func NewReader(identityClaims []string) *Reader {
	claims := make([]string, 0, len(identityClaims))
	for _, c := range identityClaims {
		if c = strings.TrimSpace(c); c != "" {
			claims = append(claims, c)
		}
	}
	if len(claims) == 0 {
		claims = DefaultIdentityClaims
	}
	return &Reader{
		IdentityClaims: claims,
		Now:            time.Now,
		parser:         jwt.NewParser(jwt.WithJSONNumber()),
	}
}

func (r *Reader) Read(token string) (Session, error) {
	return r.read(token, true)
}

// ReadExpired decodes a token that may have expired. It is only for
// tearing down state that belonged to the token's identity.
func (r *Reader) ReadExpired(token string) (Session, error) {
	return r.read(token, false)
}

func (r *Reader) read(token string, checkExpiry bool) (Session, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Session{}, ErrUnauthenticated
	}

	parser := r.parser
	if parser == nil {
		parser = jwt.NewParser(jwt.WithJSONNumber())
	}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("%w: decode token: %v", ErrUnauthenticated, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Session{}, fmt.Errorf("%w: token has no expiry", ErrUnauthenticated)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if checkExpiry && !exp.Time.After(now()) {
		return Session{}, fmt.Errorf("%w: token expired at %s", ErrUnauthenticated, exp.Time.UTC().Format(time.RFC3339))
	}

	identity := ""
	for _, name := range r.IdentityClaims {
		if v, ok := claims[name]; ok {
			if s := strings.TrimSpace(report.FormatValue(v)); s != "" {
				identity = s
				break
			}
		}
	}
	if identity == "" {
		return Session{}, fmt.Errorf("%w: token carries no identity claim", ErrUnauthenticated)
	}

	role, _ := claims["role"].(string)
	name, _ := claims["name"].(string)
	return Session{
		Identity:  identity,
		Role:      role,
		Name:      name,
		ExpiresAt: exp.Time.UTC(),
		Token:     token,
	}, nil
}

type ctxKey struct{}

// WithSession stores the acting session on the context. Handlers consume the
// capability instead of decoding tokens themselves.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
