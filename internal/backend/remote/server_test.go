package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartik102005/ecolearn/internal/core/auth"
	"github.com/kartik102005/ecolearn/internal/core/kv"
	"github.com/kartik102005/ecolearn/internal/core/profile"
)

const testAnonKey = "anon-test-key"

// fakeProject imitates the hosted auth and rest endpoints.
type fakeProject struct {
	t *testing.T

	mu        sync.Mutex
	users     map[string]string // email -> password
	profiles  map[string]profile.Profile
	tokenTTL  time.Duration
	requests  []string
	lastAuthz string
	logouts   int
	refreshOK bool
}

func newFakeProject(t *testing.T) (*fakeProject, *httptest.Server) {
	t.Helper()
	fp := &fakeProject{
		t:         t,
		users:     map[string]string{"maya@example.com": "secret1"},
		profiles:  map[string]profile.Profile{},
		tokenTTL:  time.Hour,
		refreshOK: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", fp.token)
	mux.HandleFunc("POST /auth/v1/signup", fp.signup)
	mux.HandleFunc("POST /auth/v1/logout", fp.logout)
	mux.HandleFunc("GET /rest/v1/profiles", fp.selectProfile)
	mux.HandleFunc("POST /rest/v1/profiles", fp.insertProfile)
	mux.HandleFunc("PATCH /rest/v1/profiles", fp.updateProfile)

	srv := httptest.NewServer(fp.record(mux))
	t.Cleanup(srv.Close)
	return fp, srv
}

func (fp *fakeProject) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		fp.requests = append(fp.requests, r.Method+" "+r.URL.Path)
		fp.lastAuthz = r.Header.Get("Authorization")
		fp.mu.Unlock()
		if r.Header.Get("apikey") != testAnonKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fp *fakeProject) issue(w http.ResponseWriter, email string) {
	exp := time.Now().Add(fp.tokenTTL)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "uid-" + email,
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("server-secret"))
	assert.NoError(fp.t, err)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    int(fp.tokenTTL.Seconds()),
		"refresh_token": "refresh-" + email,
		"user":          map[string]any{"id": "uid-" + email, "email": email},
	})
}

func (fp *fakeProject) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	assert.NoError(fp.t, json.NewDecoder(r.Body).Decode(&body))

	fp.mu.Lock()
	defer fp.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if pw, ok := fp.users[body["email"]]; !ok || pw != body["password"] {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		fp.issue(w, body["email"])
	case "refresh_token":
		if !fp.refreshOK {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid Refresh Token: Refresh Token Not Found",
			})
			return
		}
		fp.issue(w, strings.TrimPrefix(body["refresh_token"], "refresh-"))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant type"})
	}
}

func (fp *fakeProject) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	assert.NoError(fp.t, json.NewDecoder(r.Body).Decode(&body))

	fp.mu.Lock()
	defer fp.mu.Unlock()

	if _, exists := fp.users[body.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code": "user_already_exists",
			"msg":  "User already registered",
		})
		return
	}
	fp.users[body.Email] = body.Password

	if strings.HasPrefix(body.Email, "confirm") {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "uid-" + body.Email, "email": body.Email, "user_metadata": body.Data,
		})
		return
	}
	fp.issue(w, body.Email)
}

func (fp *fakeProject) logout(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	fp.logouts++
	fp.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (fp *fakeProject) rowID(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Query().Get("id"), "eq.")
}

func (fp *fakeProject) noRows(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotAcceptable, map[string]any{
		"code":    "PGRST116",
		"details": "The result contains 0 rows",
		"message": "JSON object requested, multiple (or no) rows returned",
	})
}

func (fp *fakeProject) selectProfile(w http.ResponseWriter, r *http.Request) {
	assert.Equal(fp.t, singleObject, r.Header.Get("Accept"))

	fp.mu.Lock()
	p, ok := fp.profiles[fp.rowID(r)]
	fp.mu.Unlock()
	if !ok {
		fp.noRows(w)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (fp *fakeProject) insertProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	assert.NoError(fp.t, json.NewDecoder(r.Body).Decode(&p))

	fp.mu.Lock()
	fp.profiles[p.ID] = p
	fp.mu.Unlock()
	writeJSON(w, http.StatusCreated, p)
}

func (fp *fakeProject) updateProfile(w http.ResponseWriter, r *http.Request) {
	var patch profile.Patch
	assert.NoError(fp.t, json.NewDecoder(r.Body).Decode(&patch))

	fp.mu.Lock()
	defer fp.mu.Unlock()
	p, ok := fp.profiles[fp.rowID(r)]
	if !ok {
		fp.noRows(w)
		return
	}
	p = patch.Apply(p)
	fp.profiles[p.ID] = p
	writeJSON(w, http.StatusOK, p)
}

func (fp *fakeProject) seen() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.requests...)
}

func (fp *fakeProject) setTokenTTL(d time.Duration) {
	fp.mu.Lock()
	fp.tokenTTL = d
	fp.mu.Unlock()
}

func (fp *fakeProject) authz() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.lastAuthz
}

func (fp *fakeProject) logoutCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.logouts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestBackend(t *testing.T, srv *httptest.Server) (*Backend, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	b, err := New(srv.URL, testAnonKey, srv.Client(), store, zerolog.Nop())
	require.NoError(t, err)
	return b, store
}

type recorder struct {
	mu  sync.Mutex
	got []auth.ChangeEvent
}

func (r *recorder) handle(c auth.Change) {
	r.mu.Lock()
	r.got = append(r.got, c.Event)
	r.mu.Unlock()
}

func (r *recorder) events() []auth.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.ChangeEvent(nil), r.got...)
}
