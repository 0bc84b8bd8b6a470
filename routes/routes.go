package routes

// HTTP routing setup for the quorum API.

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/collapsinghierarchy/quorum/handler"
	"github.com/collapsinghierarchy/quorum/service"
)

type Options struct {
	Logger *slog.Logger
	Auth   *handler.Authenticator
	// Metrics, when set, is served at /metrics.
	Metrics prometheus.Gatherer
}

// SetupRoutes wires all HTTP endpoints behind the middleware chain.
func SetupRoutes(svc *service.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	srv := handler.New(svc, logger)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/contributors", srv.Register)
	mux.HandleFunc("GET /v1/contributors/banned", srv.Banned)
	mux.HandleFunc("GET /v1/contributors/{address}", srv.Contributor)
	mux.HandleFunc("POST /v1/contributors/{address}/ban", srv.Ban)
	mux.HandleFunc("POST /v1/contributors/{address}/reinstate", srv.Reinstate)
	mux.HandleFunc("GET /v1/roles", srv.Roles)

	mux.HandleFunc("POST /v1/submissions", srv.Submit)
	mux.HandleFunc("GET /v1/submissions/counter", srv.Counter)
	mux.HandleFunc("GET /v1/submissions/{id}", srv.Submission)
	mux.HandleFunc("DELETE /v1/submissions/{id}", srv.DeleteSubmission)
	mux.HandleFunc("POST /v1/submissions/{id}/verifiers", srv.CommitVerifiers)
	mux.HandleFunc("POST /v1/submissions/{id}/votes", srv.Vote)
	mux.HandleFunc("POST /v1/submissions/{id}/reveal", srv.Reveal)
	mux.HandleFunc("POST /v1/submissions/{id}/reverify", srv.ReVerify)
	mux.HandleFunc("GET /v1/submissions/{id}/assignment", srv.Assignment)

	mux.HandleFunc("GET /v1/events", srv.Events)
	mux.HandleFunc("GET /v1/escrow-key", srv.EscrowKey)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	chain := alice.New(requestID, logRequest(logger), recoverPanic(logger))
	if opts.Auth != nil {
		chain = chain.Append(opts.Auth.Middleware)
	}
	return chain.Then(mux)
}

const requestIDHeader = "X-Request-Id"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(requestIDHeader) == "" {
			r.Header.Set(requestIDHeader, uuid.NewString())
		}
		w.Header().Set(requestIDHeader, r.Header.Get(requestIDHeader))
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// logRequest logs basic request information.
func logRequest(logger *slog.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", r.Header.Get(requestIDHeader),
			)
		})
	}
}

func recoverPanic(logger *slog.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic serving request",
						"path", r.URL.Path,
						"panic", fmt.Sprint(v),
						"stack", string(debug.Stack()),
					)
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
