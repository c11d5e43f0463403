package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Heidric/shmbridge/pkg/log"
)

// Log is the process-wide logger. It discards everything until Initialize
// runs, so packages may log from tests without setup.
var Log = func() *zerolog.Logger { l := zerolog.Nop(); return &l }()

// Initialize builds the logger described by config and installs it as Log.
func Initialize(config *log.Config) (*log.Logger, error) {
	logger, err := log.NewLogger(context.Background(), config)
	if err != nil {
		return nil, errors.Wrap(err, "new logger")
	}

	Log = logger.Zerolog()

	return logger, nil
}

// Middleware writes one access-log line per request: server errors at warn,
// everything else at debug so that routine polling stays quiet.
func Middleware(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)

		ev := Log.Debug()
		if lw.status >= http.StatusInternalServerError {
			ev = Log.Warn()
		}
		ev.Str("uri", r.RequestURI).
			Str("method", r.Method).
			Dur("duration", time.Since(start)).
			Int("status", lw.status).
			Int("size", lw.size).
			Msg("got HTTP request")
	}

	return http.HandlerFunc(fn)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (r *loggingResponseWriter) Write(b []byte) (int, error) {
	size, err := r.ResponseWriter.Write(b)
	r.size += size
	return size, err
}

func (r *loggingResponseWriter) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.status = statusCode
}
