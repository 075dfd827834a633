package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/catalog"
	"github.com/JakeFAU/uwyo-soundings/internal/metrics"
	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

const (
	defaultMaxDays = 31
	requestTimeout = 5 * time.Minute
)

// Downloader runs sounding requests; *worker.Pool satisfies it.
type Downloader interface {
	Run(ctx context.Context, runID uuid.UUID, requests []sounding.Request) (sounding.Collection, error)
}

// StationLister returns stations, optionally filtered by region name.
type StationLister interface {
	List(ctx context.Context, region string) ([]catalog.Station, error)
}

// Config controls the server.
type Config struct {
	// APIKey enables X-API-Key authentication on /v1 routes when set.
	APIKey string
	// MaxDays caps the date range of on-demand downloads.
	MaxDays int
	// Now returns the current time; it defaults to time.Now.
	Now func() time.Time
}

// Server wires HTTP handlers to the download pipeline and stores.
type Server struct {
	router     chi.Router
	downloader Downloader
	stations   StationLister
	runs       *RunsHandler
	cfg        Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. stations and runs
// may be nil; their routes then answer 503.
func NewServer(downloader Downloader, stations StationLister, runs RunLister, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = defaultMaxDays
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		downloader: downloader,
		stations:   stations,
		runs:       NewRunsHandler(runs, logger),
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(requestTimeout))
		r.Get("/stations", s.listStations)
		r.Get("/soundings/{station}", s.getSoundings)
		r.Get("/runs", s.runs.ListRuns)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listStations(w http.ResponseWriter, r *http.Request) {
	if s.stations == nil {
		writeError(w, http.StatusServiceUnavailable, "station catalog unavailable")
		return
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	if region != "" {
		if reg, ok := catalog.LookupRegion(region); ok {
			region = reg.Name
		}
	}
	stations, err := s.stations.List(r.Context(), region)
	if err != nil {
		s.logger.Error("list stations failed", zap.Error(err))
		writeError(w, statusFor(err), "failed to list stations")
		return
	}
	if stations == nil {
		stations = []catalog.Station{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

func (s *Server) getSoundings(w http.ResponseWriter, r *http.Request) {
	station := chi.URLParam(r, "station")
	q := r.URL.Query()

	today := sounding.Day(s.cfg.Now())
	begin, err := parseDateParam(q.Get("begin"), today)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseDateParam(q.Get("end"), begin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hour := q.Get("hour")
	if hour == "" {
		hour = string(sounding.Hour00)
	}
	if !begin.After(end) && sounding.DayCount(begin, end) > s.cfg.MaxDays {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("date range exceeds %d days", s.cfg.MaxDays))
		return
	}
	requests, err := sounding.BuildRequests(station, begin, end, hour, s.logger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.New()
	col, err := s.downloader.Run(r.Context(), runID, requests)
	if err != nil {
		s.logger.Warn("on-demand run failed", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toCollectionDTO(runID, col))
}

func parseDateParam(raw string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	t, err := sounding.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sounding.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, sounding.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type collectionDTO struct {
	RunID     string    `json:"run_id"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Items     []itemDTO `json:"items"`
}

type itemDTO struct {
	StationID string `json:"station_id"`
	Date      string `json:"date"`
	Hour      string `json:"hour"`
	Filename  string `json:"filename"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toCollectionDTO(runID uuid.UUID, col sounding.Collection) collectionDTO {
	summary := col.Summary()
	dto := collectionDTO{
		RunID:     runID.String(),
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Items:     make([]itemDTO, 0, col.Len()),
	}
	for _, item := range col.Items {
		it := itemDTO{
			StationID: item.Request.StationID,
			Date:      item.Request.Date.Format("2006-01-02"),
			Hour:      string(item.Request.Hour),
			Filename:  item.Request.Filename(),
		}
		if item.Err != nil {
			it.Error = item.Err.Error()
		} else if item.Result != nil {
			it.Data = item.Result.Data
		}
		dto.Items = append(dto.Items, it)
	}
	return dto
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
