package http

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"accountlink/internal/domain/connection"
	"accountlink/internal/domain/verification"
	"accountlink/internal/domain/wizard"
)

// WizardHandler exposes wizard sessions to the UI shell.
type WizardHandler struct {
	orchestrator  *wizard.Orchestrator
	sessions      wizard.SessionRepository
	maxUploadSize int64
	logger        *zap.Logger
}

func NewWizardHandler(orchestrator *wizard.Orchestrator, sessions wizard.SessionRepository, maxUploadSize int64, logger *zap.Logger) *WizardHandler {
	return &WizardHandler{
		orchestrator:  orchestrator,
		sessions:      sessions,
		maxUploadSize: maxUploadSize,
		logger:        logger.Named("wizard_http"),
	}
}

type GoToRequest struct {
	Step wizard.StepID `json:"step"`
}

type SelectMethodRequest struct {
	Method connection.Kind `json:"method"`
}

// ConnectResponse carries the sub-flow result next to the updated session.
type ConnectResponse struct {
	Session wizard.View       `json:"session"`
	Result  connection.Result `json:"result"`
}

type VerifyResponse struct {
	Session      wizard.View           `json:"session"`
	Verification verification.Snapshot `json:"verification"`
}

type MethodsResponse struct {
	Methods []connection.Kind `json:"methods"`
}

// Register mounts the wizard routes on r.
func (h *WizardHandler) Register(r chi.Router) {
	r.Get("/methods", h.HandleMethods)
	r.Post("/sessions", h.HandleCreateSession)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGetSession)
		r.Post("/next", h.HandleNext)
		r.Post("/back", h.HandleBack)
		r.Post("/goto", h.HandleGoTo)
		r.Post("/method", h.HandleSelectMethod)
		r.Post("/connect", h.HandleConnect)
		r.Post("/upload", h.HandleUpload)
		r.Post("/reconnect", h.HandleReconnect)
		r.Post("/verify", h.HandleVerify)
		r.Post("/verify/retry", h.HandleRetryVerification)
		r.Post("/complete", h.HandleComplete)
		r.Post("/cancel", h.HandleCancel)
	})
}

func (h *WizardHandler) HandleMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MethodsResponse{Methods: h.orchestrator.Methods()})
}

// HandleCreateSession opens a session, optionally resuming from the posted
// initial state.
func (h *WizardHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var initial wizard.InitialState
	if err := decodeJSON(r, &initial); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s := h.orchestrator.Open(&initial)
	if err := h.sessions.Save(s); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.View())
}

func (h *WizardHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *WizardHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.orchestrator.Next)
}

func (h *WizardHandler) HandleBack(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.orchestrator.Back)
}

func (h *WizardHandler) HandleReconnect(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.orchestrator.Reconnect)
}

func (h *WizardHandler) HandleGoTo(w http.ResponseWriter, r *http.Request) {
	var req GoToRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.mutate(w, r, func(s *wizard.Session) error {
		return h.orchestrator.GoTo(s, req.Step)
	})
}

func (h *WizardHandler) HandleSelectMethod(w http.ResponseWriter, r *http.Request) {
	var req SelectMethodRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Method == "" {
		http.Error(w, "method is required", http.StatusBadRequest)
		return
	}
	h.mutate(w, r, func(s *wizard.Session) error {
		return h.orchestrator.SelectMethod(s, req.Method)
	})
}

// HandleConnect runs the selected sub-flow with a JSON input (institution or
// manual entries). Sample data takes no input.
func (h *WizardHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	var in connection.Input
	if err := decodeJSON(r, &in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	h.connect(w, r, in)
}

// HandleUpload runs the file import sub-flow over a multipart form. Every
// part named "files" is one export.
func (h *WizardHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	uploads := make([]connection.Upload, 0, len(headers))
	for _, fh := range headers {
		upload, err := readUpload(fh)
		if err != nil {
			h.logger.Warn("failed to read upload", zap.String("file", fh.Filename), zap.Error(err))
			http.Error(w, "Failed to read upload", http.StatusBadRequest)
			return
		}
		uploads = append(uploads, upload)
	}

	h.connect(w, r, connection.Input{Files: uploads})
}

// readUpload loads a part into memory. Oversized parts keep their declared
// size but no content; the import flow rejects them by size.
func readUpload(fh *multipart.FileHeader) (connection.Upload, error) {
	upload := connection.Upload{Name: fh.Filename, Size: fh.Size}
	if fh.Size > connection.MaxFileSize {
		return upload, nil
	}
	f, err := fh.Open()
	if err != nil {
		return upload, err
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, connection.MaxFileSize+1))
	if err != nil {
		return upload, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	upload.Content = content
	return upload, nil
}

func (h *WizardHandler) connect(w http.ResponseWriter, r *http.Request, in connection.Input) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := h.orchestrator.Connect(r.Context(), s, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Session: s.View(), Result: result})
}

// HandleVerify runs the verification pipeline and answers once every check
// has finished. Closing the request cancels the run.
func (h *WizardHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := h.orchestrator.Verify(r.Context(), s)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Session: s.View(), Verification: snap})
}

func (h *WizardHandler) HandleRetryVerification(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	snap, err := h.orchestrator.RetryVerification(s)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Session: s.View(), Verification: snap})
}

// HandleComplete closes the session and hands the batch to the dashboard. A
// failing handoff still leaves the session completed.
func (h *WizardHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *wizard.Session) error {
		return h.orchestrator.Complete(r.Context(), s)
	})
}

func (h *WizardHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(s *wizard.Session) error {
		return h.orchestrator.Cancel(r.Context(), s)
	})
}

func (h *WizardHandler) mutate(w http.ResponseWriter, r *http.Request, op func(*wizard.Session) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := op(s); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s.View())
}

func (h *WizardHandler) session(w http.ResponseWriter, r *http.Request) (*wizard.Session, bool) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return nil, false
	}
	return s, true
}
