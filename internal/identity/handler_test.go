package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staybook/internal/booking"
)

func newTestRouter(svc Service, sessions *Sessions) http.Handler {
	r := chi.NewRouter()
	r.Use(Authenticate(sessions, svc, nil))
	NewHandler(svc, sessions).Routes(r)
	return r
}

func post(t *testing.T, h http.Handler, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RegisterAndSignIn(t *testing.T) {
	svc := newFakeService()
	sessions := NewSessions("secret", time.Hour)
	h := newTestRouter(svc, sessions)

	rec := post(t, h, "/auth/register", `{"email":"guest@example.com","name":"Guest","password":"password1"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))
	assert.NotEmpty(t, registered.Token)
	require.NotNil(t, registered.Principal)
	assert.False(t, registered.Principal.EmailVerified)

	id, err := sessions.Verify(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Account.ID, id)

	rec = post(t, h, "/auth/sign-in", `{"email":"guest@example.com","password":"password1"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h, "/auth/sign-in", `{"email":"guest@example.com","password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, h, "/auth/register", `{"email":"guest@example.com","name":"Again","password":"password1"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_Errors(t *testing.T) {
	svc := newFakeService()
	h := newTestRouter(svc, NewSessions("secret", time.Hour))

	rec := post(t, h, "/auth/register", `{`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, h, "/auth/register", `{"email":"nope","name":"x","password":"password1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = ErrRateLimited
	rec = post(t, h, "/auth/sign-in", `{"email":"a@example.com","password":"x"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHandler_VerifyEmailIsAdminOnly(t *testing.T) {
	svc := newFakeService()
	sessions := NewSessions("secret", time.Hour)
	h := newTestRouter(svc, sessions)
	ctx := context.Background()

	guest, err := svc.Register(ctx, "guest@example.com", "Guest", "password1")
	require.NoError(t, err)
	admin, err := svc.Register(ctx, "admin@example.com", "Admin", "password1")
	require.NoError(t, err)
	svc.admins[admin.ID] = true

	guestToken, _, err := sessions.Issue(guest.ID)
	require.NoError(t, err)
	adminToken, _, err := sessions.Issue(admin.ID)
	require.NoError(t, err)
	path := "/accounts/" + guest.ID.String() + "/verify-email"

	assert.Equal(t, http.StatusUnauthorized, post(t, h, path, "", "").Code)
	assert.Equal(t, http.StatusForbidden, post(t, h, path, "", guestToken).Code)
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/accounts/x/verify-email", "", adminToken).Code)
	assert.Equal(t, http.StatusNoContent, post(t, h, path, "", adminToken).Code)

	p, err := svc.Principal(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, &booking.Principal{ID: guest.ID.String(), EmailVerified: true}, p)
}
