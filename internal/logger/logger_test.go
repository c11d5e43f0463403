package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heidric/shmbridge/pkg/log"
)

func TestMiddleware_PassesThrough(t *testing.T) {
	_, err := Initialize(&log.Config{Level: "error"})
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	})
	req := httptest.NewRequest(http.MethodGet, "http://example/value/1.3.6", nil)
	w := httptest.NewRecorder()
	Middleware(next).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "down", w.Body.String())
}

func TestInitialize_BadLevel(t *testing.T) {
	_, err := Initialize(&log.Config{Level: "chatty"})
	assert.Error(t, err)
}
