package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/uwyo-soundings/internal/storage/postgres"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	runsTimeout     = 3 * time.Second
)

// RunLister reads run history; *postgres.RunStore satisfies it.
type RunLister interface {
	ListRuns(ctx context.Context, stationID string, limit int) ([]postgres.RunRecord, error)
}

// RunsHandler exposes read-only run history endpoints.
type RunsHandler struct {
	repo    RunLister
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the repository and logger.
func NewRunsHandler(repo RunLister, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{repo: repo, timeout: runsTimeout, logger: logger}
}

// ListRuns handles GET /v1/runs?station=&limit=. It returns {"runs": [...]}
// on success, 400 for an invalid limit, 503 when no repository is configured,
// or 500 if the repository call fails.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	station := strings.TrimSpace(r.URL.Query().Get("station"))
	runs, err := h.repo.ListRuns(ctx, station, limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []postgres.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
