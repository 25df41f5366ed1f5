package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/msgbridge/pkg/apperr"
)

func TestNewRequiresPassword(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestCredentialSources(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/ping?password=p1&guid=g1", nil)
	r.Header.Set("Authorization", "Bearer b1")
	assert.Equal(t, "p1", Credential(r))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/ping?guid=g1", nil)
	r.Header.Set("Authorization", "Bearer b1")
	assert.Equal(t, "g1", Credential(r))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	r.Header.Set("Authorization", "bearer b1")
	assert.Equal(t, "b1", Credential(r))

	r = httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	assert.Equal(t, "", Credential(r))
}

func TestVerify(t *testing.T) {
	a, err := New("hunter2")
	require.NoError(t, err)

	assert.NoError(t, a.Verify("hunter2"))

	err = a.Verify("")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, "missing credential", apperr.PublicMessage(err))

	err = a.Verify("hunter3")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(err))
}

func TestIssuedTokens(t *testing.T) {
	a, err := New("hunter2")
	require.NoError(t, err)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a.nowFn = func() time.Time { return now }

	token, expires, err := a.IssueToken()
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), expires)
	assert.NoError(t, a.Verify(token))

	other, err := New("different")
	require.NoError(t, err)
	other.nowFn = a.nowFn
	assert.Error(t, other.Verify(token), "tokens die with the password")

	now = now.Add(25 * time.Hour)
	assert.Error(t, a.Verify(token), "expired")
}

func TestMiddleware(t *testing.T) {
	a, err := New("hunter2")
	require.NoError(t, err)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":401,"message":"Unauthorized","data":null,"error":{"type":"unauthorized","message":"missing credential"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x?password=hunter2", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
