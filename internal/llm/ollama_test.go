package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOllamaClient_UsesHostWithoutChangingEnv(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"qwen3"}]}`))
	}))
	defer server.Close()

	tests := []struct {
		name  string
		setup func(t *testing.T)
		check func(t *testing.T)
	}{
		{
			name:  "previous value restored",
			setup: func(t *testing.T) { t.Setenv(ollamaHostEnv, "http://127.0.0.1:1") },
			check: func(t *testing.T) { assert.Equal(t, "http://127.0.0.1:1", os.Getenv(ollamaHostEnv)) },
		},
		{
			name: "unset stays unset",
			setup: func(t *testing.T) {
				t.Setenv(ollamaHostEnv, "")
				require.NoError(t, os.Unsetenv(ollamaHostEnv))
			},
			check: func(t *testing.T) {
				_, ok := os.LookupEnv(ollamaHostEnv)
				assert.False(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)

			client, err := NewOllamaClient(server.URL)
			require.NoError(t, err)
			tt.check(t)

			models, err := client.Models(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"llama3.2", "qwen3"}, models)
		})
	}
}
