package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

type fakeTokens struct {
	mu    sync.Mutex
	token string
	reads int
}

func (f *fakeTokens) Load(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.token, nil
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/api", opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_Success(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"), "login is unauthenticated")
		_, err := uuid.Parse(r.Header.Get(RequestIDHeader))
		assert.NoError(t, err)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"access_token": "tok-1",
			"user":         map[string]any{"username": "alice", "email": "a@example.com"},
		})
	})

	res, err := c.Login(context.Background(), "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, map[string]string{"username": "alice", "password": "secret1"}, got)
}

func TestLogin_FailureEnvelopeCarriesReason(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Invalid username or password"})
	})

	_, err := c.Login(context.Background(), "alice", "wrong-pw")
	require.Error(t, err)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Invalid username or password", Reason(err, "Login failed"))
}

func TestLogin_MissingTokenIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": map[string]any{"username": "alice"}})
	})

	_, err := c.Login(context.Background(), "alice", "secret1")
	require.Error(t, err)
}

func TestRegister_SendsOptionalFullName(t *testing.T) {
	var got map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{
			"success":      true,
			"access_token": "tok-2",
			"user":         map[string]any{"username": "bob", "email": "b@example.com"},
		})
	})

	res, err := c.Register(context.Background(), models.Registration{Username: "bob", Email: "b@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", res.Token)
	assert.NotContains(t, got, "full_name")
	assert.Equal(t, "b@example.com", got["email"])
}

func TestAuthorizedRequests_ReadTokenEveryTime(t *testing.T) {
	tokens := &fakeTokens{token: "tok-a"}
	var seen []string
	var mu sync.Mutex
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": map[string]any{"username": "alice"}})
	}, WithTokenSource(tokens))

	_, err := c.GetProfile(context.Background())
	require.NoError(t, err)

	tokens.mu.Lock()
	tokens.token = "tok-b"
	tokens.mu.Unlock()

	_, err = c.GetProfile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer tok-a", "Bearer tok-b"}, seen)
	assert.Equal(t, 2, tokens.reads)
}

func TestUnauthorized_ReportsRejectedToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "Token has expired"})
	}, WithTokenSource(&fakeTokens{token: "stale"}))

	var rejected []string
	c.OnUnauthorized(func(token string) { rejected = append(rejected, token) })

	_, err := c.ListJobs(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Token has expired", Reason(err, "x"))
	assert.Equal(t, []string{"stale"}, rejected)
}

func TestUnauthorized_WithoutTokenDoesNotReport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Missing Authorization Header"})
	})
	called := false
	c.OnUnauthorized(func(string) { called = true })

	_, err := c.GetProfile(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called)
}

func TestUnreachableServer_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url + "/api")
	err := c.Ping(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestGatewayErrorsWithoutBody_AreUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.ListJobs(context.Background())
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestListJobs_ParsesRecords(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/downloads", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id": 2, "url": "https://youtu.be/b", "title": "B", "status": "completed", "progress": 1.0,
			 "created_at": "2024-01-02T10:00:00.123456", "completed_at": "2024-01-02T10:05:00"},
			{"id": 1, "url": "https://youtu.be/a", "title": "A", "status": "downloading", "progress": 0.5,
			 "created_at": "2024-01-01T09:00:00+00:00", "completed_at": null}
		]`)
	})

	jobs, err := c.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, int64(2), jobs[0].ID)
	assert.Equal(t, models.JobCompleted, jobs[0].Status)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 123456000, time.UTC), jobs[0].CreatedAt)
	require.NotNil(t, jobs[0].CompletedAt)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 5, 0, 0, time.UTC), *jobs[0].CompletedAt)

	assert.Equal(t, "https://youtu.be/a", jobs[1].SourceURL)
	assert.Equal(t, 0.5, jobs[1].Progress)
	assert.Nil(t, jobs[1].CompletedAt)
}

func TestDeleteJob_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/downloads/42", r.URL.Path)
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "Download not found"})
	})

	err := c.DeleteJob(context.Background(), 42)
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "Download not found", se.Message)
}

func TestFetchJobArtifact_StreamsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/downloads/7/file", r.URL.Path)
		w.Header().Set("Content-Disposition", `attachment; filename="clip.mp4"`)
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, "binary-bytes")
	})

	art, err := c.FetchJobArtifact(context.Background(), 7)
	require.NoError(t, err)
	defer art.Body.Close()

	body, err := io.ReadAll(art.Body)
	require.NoError(t, err)
	assert.Equal(t, "binary-bytes", string(body))
	assert.Equal(t, `attachment; filename="clip.mp4"`, art.ContentDisposition)
	assert.Equal(t, "video/mp4", art.ContentType)
}

func TestUpdateProfile_SendsPartialBody(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "profile": map[string]any{"full_name": "Alice A."}})
	}, WithTokenSource(&fakeTokens{token: "t"}))

	name := "Alice A."
	p, err := c.UpdateProfile(context.Background(), models.ProfileUpdate{FullName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", p.FullName)
	assert.Equal(t, map[string]any{"full_name": "Alice A."}, got)
}

func TestRateLimit_WaitHonoursContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	}, WithRateLimit(0.001, 1))

	require.NoError(t, c.Ping(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Ping(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestReason_Fallback(t *testing.T) {
	assert.Equal(t, "Login failed", Reason(ErrUnavailable, "Login failed"))
	assert.Equal(t, "Login failed", Reason(&ServerError{Status: 500}, "Login failed"))
	assert.Contains(t, (&ServerError{Status: 500}).Error(), "500")
}
