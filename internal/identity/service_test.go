package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapUsers map[string]User

func (m mapUsers) GetUser(_ context.Context, id string) (User, bool, error) {
	u, ok := m[id]
	return u, ok, nil
}

func newServiceForTests(t *testing.T, users mapUsers, now time.Time) *Service {
	t.Helper()
	svc := NewService(users, Options{}, nil)
	svc.now = func() time.Time { return now }
	svc.newID = func() string { return "minted-uid" }
	return svc
}

func TestResolve_MintsAnonymousUID(t *testing.T) {
	svc := newServiceForTests(t, mapUsers{}, time.Now())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/saves", nil)

	id, err := svc.Resolve(rec, req)
	require.NoError(t, err)
	assert.Equal(t, "minted-uid", id.UserID)
	assert.True(t, id.Minted)
	assert.False(t, id.Registered)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "uid", cookies[0].Name)
	assert.Equal(t, "minted-uid", cookies[0].Value)
	assert.Equal(t, 365*24*60*60, cookies[0].MaxAge)
}

func TestResolve_AnonymousUIDPassesThrough(t *testing.T) {
	svc := newServiceForTests(t, mapUsers{}, time.Now())
	req := httptest.NewRequest(http.MethodGet, "/api/saves", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "anon-1"})

	id, err := svc.Resolve(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "anon-1"}, id)
}

func TestResolve_RegisteredUserNeedsToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := User{ID: "u1", CookieSecret: "s3cret"}
	svc := newServiceForTests(t, mapUsers{"u1": u}, now)

	req := httptest.NewRequest(http.MethodGet, "/api/saves", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "u1"})
	_, err := svc.Resolve(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	token, exp, err := svc.IssueToken(u, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	req = httptest.NewRequest(http.MethodGet, "/api/saves", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "u1"})
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	id, err := svc.Resolve(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Registered: true}, id)
}

func TestResolve_RejectsExpiredAndForeignTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u1 := User{ID: "u1", CookieSecret: "one"}
	u2 := User{ID: "u2", CookieSecret: "two"}
	svc := newServiceForTests(t, mapUsers{"u1": u1, "u2": u2}, now)

	expired, _, err := svc.IssueToken(u1, -time.Minute)
	require.NoError(t, err)
	foreign, _, err := svc.IssueToken(u2, time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{"expired": expired, "foreign": foreign, "garbage": "not.a.token"} {
		req := httptest.NewRequest(http.MethodGet, "/api/saves", nil)
		req.AddCookie(&http.Cookie{Name: "uid", Value: "u1"})
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		_, err := svc.Resolve(httptest.NewRecorder(), req)
		assert.ErrorIs(t, err, ErrUnauthenticated, name)
	}
}

func TestRequireAPI_StoresIdentityOnContext(t *testing.T) {
	svc := newServiceForTests(t, mapUsers{"u1": {ID: "u1", CookieSecret: "x"}}, time.Now())
	var seen Identity
	h := svc.RequireAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/saves", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "anon-2"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "anon-2", seen.UserID)

	req = httptest.NewRequest(http.MethodGet, "/api/saves", nil)
	req.AddCookie(&http.Cookie{Name: "uid", Value: "u1"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	svc := newServiceForTests(t, mapUsers{}, time.Now())
	_, _, err := svc.IssueToken(User{ID: "u"}, time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
}
