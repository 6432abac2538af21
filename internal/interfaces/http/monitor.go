package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/monitor"
)

// SyncSubmitter queues a manual sync off the request goroutine.
type SyncSubmitter interface {
	SubmitSync(m *monitor.Monitor, accountID string) error
}

// MonitorHandler exposes connection health for completed wizard sessions.
type MonitorHandler struct {
	registry *monitor.Registry
	syncs    SyncSubmitter
	logger   *zap.Logger
}

func NewMonitorHandler(registry *monitor.Registry, syncs SyncSubmitter, logger *zap.Logger) *MonitorHandler {
	return &MonitorHandler{registry: registry, syncs: syncs, logger: logger.Named("monitor_http")}
}

type MonitorResponse struct {
	ID       string                        `json:"id"`
	Paused   bool                          `json:"paused"`
	Health   monitor.Health                `json:"health"`
	Accounts []account.Record              `json:"accounts"`
	Statuses map[string]monitor.SyncStatus `json:"statuses"`
}

type SyncAcceptedResponse struct {
	AccountID string    `json:"accountId"`
	QueuedAt  time.Time `json:"queuedAt"`
}

func (h *MonitorHandler) Register(r chi.Router) {
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGetMonitor)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
		r.Post("/accounts/{accountID}/sync", h.HandleSync)
	})
}

func (h *MonitorHandler) HandleGetMonitor(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

func (h *MonitorHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	m.Pause()
	writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

func (h *MonitorHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	m.Resume()
	writeJSON(w, http.StatusOK, toMonitorResponse(m))
}

// HandleSync queues a manual sync and answers 202. Obvious rejections
// (unknown account, paused, already syncing) are reported synchronously.
func (h *MonitorHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	m, ok := h.monitor(w, r)
	if !ok {
		return
	}
	accountID := chi.URLParam(r, "accountID")

	st, known := m.Statuses()[accountID]
	switch {
	case !known:
		writeError(w, h.logger, monitor.ErrUnknownAccount)
		return
	case m.Paused():
		writeError(w, h.logger, monitor.ErrPaused)
		return
	case st.Phase == monitor.PhaseSyncing:
		writeError(w, h.logger, monitor.ErrAlreadySyncing)
		return
	}

	if err := h.syncs.SubmitSync(m, accountID); err != nil {
		h.logger.Warn("sync not queued", zap.String("account", accountID), zap.Error(err))
		http.Error(w, "Sync queue is full, try again later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, SyncAcceptedResponse{AccountID: accountID, QueuedAt: time.Now().UTC()})
}

func (h *MonitorHandler) monitor(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	m, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "monitor not found"})
		return nil, false
	}
	return m, true
}

func toMonitorResponse(m *monitor.Monitor) MonitorResponse {
	return MonitorResponse{
		ID:       m.ID(),
		Paused:   m.Paused(),
		Health:   m.Health(),
		Accounts: m.Accounts(),
		Statuses: m.Statuses(),
	}
}
