package jobs

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/sentinel-admin/sentinel/internal/platform/httpx"
)

// QueueInspector reports queue state; *asynq.Inspector satisfies it.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is a point-in-time view of one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed_today"`
}

// Inspect reads every worker queue. A queue that has never received a task
// reports zeros.
func Inspect(inspector QueueInspector) ([]QueueHealth, error) {
	known, err := inspector.Queues()
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(known))
	for _, name := range known {
		exists[name] = true
	}

	queues := Queues()
	out := make([]QueueHealth, 0, len(queues))
	for _, name := range queues {
		row := QueueHealth{Queue: name}
		if exists[name] {
			info, err := inspector.GetQueueInfo(name)
			if err != nil {
				return nil, err
			}
			row.Pending = info.Pending
			row.Active = info.Active
			row.Scheduled = info.Scheduled
			row.Retry = info.Retry
			row.Failed = info.Failed
		}
		out = append(out, row)
	}
	return out, nil
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: loggerOr(logger)}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type healthResponse struct {
	Status string        `json:"status"`
	Queues []QueueHealth `json:"queues"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, healthResponse{Status: "unmonitored", Queues: []QueueHealth{}})
		return
	}
	queues, err := Inspect(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "The job queue could not be inspected.")
		return
	}
	httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok", Queues: queues})
}
