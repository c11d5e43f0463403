package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/Heidric/shmbridge/internal/crypto"
	"github.com/Heidric/shmbridge/internal/customerrors"
)

// HashHeader carries the hex HMAC-SHA256 of a body.
const HashHeader = "HashSHA256"

type hashResponseWriter struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

// HashMiddleware signs response bodies with an HMAC-SHA256 under key and, when
// a request carries a HashHeader, rejects it with 400 unless the request body
// matches. An empty key disables both directions.
func HashMiddleware(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if sum := r.Header.Get(HashHeader); sum != "" && r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					customerrors.WriteError(w, http.StatusBadRequest, "Unreadable request body")
					return
				}
				if !crypto.VerifySHA256(body, key, sum) {
					customerrors.WriteError(w, http.StatusBadRequest, "Request signature mismatch")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			hrw := &hashResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(hrw, r)

			w.Header().Set(HashHeader, crypto.HashSHA256(hrw.buf.Bytes(), key))
			w.WriteHeader(hrw.status)
			_, _ = w.Write(hrw.buf.Bytes())
		})
	}
}

// WriteHeader records the status; it is sent once the body has been hashed.
func (w *hashResponseWriter) WriteHeader(code int) {
	w.status = code
}

func (w *hashResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}
