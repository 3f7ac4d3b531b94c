package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/localchat/internal/model"
	"github.com/capitalize-ai/localchat/pkg/logger"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth_OpenWithoutSecret(t *testing.T) {
	h := Auth("")(RequireScope(ScopeWrite)(echoUser()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "local", rec.Body.String())
}

func TestAuth_BearerToken(t *testing.T) {
	const secret = "s3cret"
	token, err := IssueToken(secret, "alice", []string{ScopeWrite}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{name: "missing", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "header", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, status: http.StatusOK},
		{name: "malformed header", setup: func(r *http.Request) { r.Header.Set("Authorization", token) }, status: http.StatusUnauthorized},
		{name: "wrong secret", setup: func(r *http.Request) {
			other, _ := IssueToken("other", "alice", nil, time.Hour)
			r.Header.Set("Authorization", "Bearer "+other)
		}, status: http.StatusUnauthorized},
		{name: "query parameter", setup: func(r *http.Request) {
			q := r.URL.Query()
			q.Set("access_token", token)
			r.URL.RawQuery = q.Encode()
		}, status: http.StatusOK},
	}

	h := Auth(secret)(echoUser())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", rec.Body.String())
			}
		})
	}
}

func TestIssueToken_NonPositiveTTLNeverExpires(t *testing.T) {
	token, err := IssueToken("s3cret", "alice", nil, -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Auth("s3cret")(echoUser()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = IssueToken("", "alice", nil, time.Hour)
	assert.Error(t, err)
}

func TestRequireScope(t *testing.T) {
	token, err := IssueToken("s3cret", "reader", nil, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Auth("s3cret")(RequireScope(ScopeWrite)(echoUser())).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(echoUser())

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "60", last.Header().Get("Retry-After"))

	disabled := RateLimit(0, time.Minute)(echoUser())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestLogging_SetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.(http.Flusher).Flush()
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestValidateSendRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     model.SendMessageRequest
		wantErr bool
	}{
		{name: "plain", req: model.SendMessageRequest{Content: "hi"}},
		{name: "empty", req: model.SendMessageRequest{}, wantErr: true},
		{name: "too long", req: model.SendMessageRequest{Content: strings.Repeat("a", maxContentBytes+1)}, wantErr: true},
		{name: "invalid utf8", req: model.SendMessageRequest{Content: "\xff"}, wantErr: true},
		{name: "file", req: model.SendMessageRequest{Content: "hi", Files: []model.File{{Name: "a.txt", Content: "x"}}}},
		{name: "unnamed file", req: model.SendMessageRequest{Content: "hi", Files: []model.File{{Content: "x"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSendRequest(&tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIDs(t *testing.T) {
	assert.NoError(t, ValidateConversationID("0190a3f2-7d2c-7b8e-9c1a-3f2e4d5c6b7a"))
	assert.Error(t, ValidateConversationID("nope"))
	assert.Error(t, ValidateMessageID(""))
	assert.Error(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("Trip plans"))
}
