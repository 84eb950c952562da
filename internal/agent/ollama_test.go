package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/mutulens/internal/models"
	"github.com/feichai0017/mutulens/pkg/logger"
)

func TestOllamaExtractor(t *testing.T) {
	asset := models.Asset{Data: []byte("jpeg-bytes"), MIMEType: "image/jpeg"}

	t.Run("Sends image and parses structured reply", func(t *testing.T) {
		var got map[string]interface{}
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/generate", r.URL.Path)
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(OllamaResponse{
				Response: `{"text":"hello","explanation":"one line"}`,
				Done:     true,
			})
		}))
		defer srv.Close()

		ex := NewOllamaExtractor(&OllamaConfig{Endpoint: srv.URL + "/", Model: "llava"}, logger.NewTestLogger())
		defer ex.Close()

		res, err := ex.Extract(context.Background(), asset, "secret", "be brief")
		require.NoError(t, err)
		assert.Equal(t, Result{Kind: Structured, Text: "hello", Explanation: "one line"}, res)

		assert.Equal(t, "llava", got["model"])
		assert.Equal(t, "json", got["format"])
		assert.Equal(t, false, got["stream"])
		assert.Equal(t, []interface{}{base64.StdEncoding.EncodeToString(asset.Data)}, got["images"])
		assert.Contains(t, got["prompt"], "Additional Instructions: be brief")
		assert.Equal(t, "Bearer secret", auth)
	})

	t.Run("No credential sends no auth header", func(t *testing.T) {
		var auth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(OllamaResponse{Response: "raw words"})
		}))
		defer srv.Close()

		ex := NewOllamaExtractor(&OllamaConfig{Endpoint: srv.URL}, logger.NewTestLogger())
		res, err := ex.Extract(context.Background(), asset, "", "")
		require.NoError(t, err)
		assert.Equal(t, Result{Kind: Fallback, Text: "raw words"}, res)
		assert.Empty(t, auth)
		assert.False(t, ex.RequiresCredential())
	})

	t.Run("Error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer srv.Close()

		ex := NewOllamaExtractor(&OllamaConfig{Endpoint: srv.URL}, logger.NewTestLogger())
		_, err := ex.Extract(context.Background(), asset, "", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("Error field in body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(OllamaResponse{Error: "out of memory"})
		}))
		defer srv.Close()

		ex := NewOllamaExtractor(&OllamaConfig{Endpoint: srv.URL}, logger.NewTestLogger())
		_, err := ex.Extract(context.Background(), asset, "", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of memory")
	})
}

func TestOllamaClientPool(t *testing.T) {
	pool := NewOllamaClientPool(&OllamaConfig{MaxPoolSize: 1, PoolTimeout: 20 * time.Millisecond})

	c, err := pool.Get(context.Background())
	require.NoError(t, err)

	_, err = pool.Get(context.Background())
	assert.Error(t, err)

	pool.Put(c)
	c2, err := pool.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, c, c2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
