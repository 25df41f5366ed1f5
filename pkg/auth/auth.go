// Package auth guards the client surfaces with the single server password.
// Clients present it directly or exchange it for a short-lived bearer token.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mahaj/msgbridge/pkg/apperr"
	"github.com/mahaj/msgbridge/pkg/model"
)

type Authenticator struct {
	password string
	key      []byte
	nowFn    func() time.Time
}

func New(password string) (*Authenticator, error) {
	if password == "" {
		return nil, errors.New("auth: password must not be empty")
	}
	return &Authenticator{
		password: password,
		key:      signingKey(password),
		nowFn:    time.Now,
	}, nil
}

// Credential extracts the presented secret. Query parameters win over the
// Authorization header: password first, then guid.
func Credential(r *http.Request) string {
	q := r.URL.Query()
	if v := q.Get("password"); v != "" {
		return v
	}
	if v := q.Get("guid"); v != "" {
		return v
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Verify accepts the raw password or a token minted by IssueToken.
func (a *Authenticator) Verify(secret string) error {
	if secret == "" {
		return apperr.Unauthorized("missing credential")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(a.password)) == 1 {
		return nil
	}
	if strings.Count(secret, ".") == 2 {
		if _, err := a.ValidateToken(secret); err == nil {
			return nil
		}
	}
	return apperr.Unauthorized("invalid credential")
}

// Check authenticates an HTTP request, including websocket upgrades.
func (a *Authenticator) Check(r *http.Request) error {
	return a.Verify(Credential(r))
}

// Middleware rejects unauthenticated requests with an error envelope.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.Check(r); err != nil {
			env := model.ErrorEnvelope(err, nil)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(env.Status)
			_ = json.NewEncoder(w).Encode(env)
			return
		}
		next.ServeHTTP(w, r)
	})
}
