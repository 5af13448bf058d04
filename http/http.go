package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// ShutdownTimeout bounds the time given to servers to finish in-flight
// requests once the context is done.
var ShutdownTimeout = 5 * time.Second

// ListenAndServe runs the given servers until ctx is done, then shuts them
// down. It returns once every server stopped.
func ListenAndServe(ctx context.Context, servers ...*http.Server) {
	var wg sync.WaitGroup
	wg.Add(len(servers))

	for _, s := range servers {
		go func(s *http.Server) {
			defer wg.Done()
			serve(s)
		}(s)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logs.Warn(errors.New("shutting down server failed").
				WithTag("addr", s.Addr).
				Wrap(err))
		}
	}

	wg.Wait()
}

func serve(s *http.Server) {
	logs.WithTag("addr", s.Addr).Info("starting server")

	err := s.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		logs.WithTag("addr", s.Addr).Info("server stopped")
		return
	}

	logs.Warn(errors.New("server stopped unexpectedly").
		WithTag("addr", s.Addr).
		Wrap(err))
}

// MetricsPathFormatter returns the path label used by the admin handler
// metrics. Client errors are not labelled and profiling endpoints share a
// single label.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	}

	if strings.HasPrefix(path, "/debug/pprof/") {
		return "/debug/pprof/"
	}
	return path
}
