package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"facekiosk/internal/journal"
	"facekiosk/internal/mobile"
	"facekiosk/internal/models"
	"facekiosk/internal/orchestrator"
	"facekiosk/internal/validate"
)

const maxBodyBytes = 16 << 20

// Handlers serves the operator surface over one App.
type Handlers struct {
	app    *mobile.App
	schema *validate.SettingsSchema
	logger *slog.Logger
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg, requestID string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg, RequestID: requestID})
}

// StatusFor maps a flow error to the HTTP status returned to the operator.
func StatusFor(err error) int {
	var fe *validate.FieldError
	if errors.As(err, &fe) {
		return http.StatusBadRequest
	}
	switch orchestrator.KindOf(err) {
	case orchestrator.KindNoConnectivity:
		return http.StatusServiceUnavailable
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	case 0:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) writeFlowError(w http.ResponseWriter, err error) {
	code := "invalid_input"
	var requestID string
	var re *orchestrator.RequestError
	if errors.As(err, &re) {
		code = re.Kind.String()
		requestID = re.RequestID
	} else if StatusFor(err) == http.StatusInternalServerError {
		code = "internal"
	}
	writeError(w, StatusFor(err), code, mobile.UserMessage(err), requestID)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

// GetLogs returns journal entries, newest first, optionally filtered by level.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	level := journal.Level(r.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown level "+string(level), "")
		return
	}
	entries := h.app.Journal.Query(journal.Filter{Level: level})
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) ExportLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.app.Journal.Export())
}

// ClearLogs empties the journal. Memory is cleared even when the persisted
// copy could not be removed.
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Journal.Clear(); err != nil {
		h.logger.Error("clear journal", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "logs cleared in memory but not on disk", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Settings.Snapshot(r.Context()))
}

type settingsResult struct {
	Saved    map[string]bool `json:"saved"`
	Settings any             `json:"settings"`
}

func (h *Handlers) settingsResponse(w http.ResponseWriter, r *http.Request, saved map[string]bool) {
	status := http.StatusOK
	for _, ok := range saved {
		if !ok {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, settingsResult{Saved: saved, Settings: h.app.Settings.Snapshot(r.Context())})
}

// UpdateSettings applies a partial update validated against the settings
// schema.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "could not read body", "")
		return
	}
	update, err := h.schema.Decode(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), "")
		return
	}
	saved := map[string]bool{}
	for k, ok := range h.app.ApplySettings(r.Context(), update) {
		saved[string(k)] = ok
	}
	h.settingsResponse(w, r, saved)
}

func (h *Handlers) ResetSettings(w http.ResponseWriter, r *http.Request) {
	saved := map[string]bool{}
	for k, ok := range h.app.ResetSettings(r.Context()) {
		saved[string(k)] = ok
	}
	h.settingsResponse(w, r, saved)
}

func (h *Handlers) GetNetwork(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Network.Current(r.Context()))
}

// ServerHealth probes the recognition service.
func (h *Handlers) ServerHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Client.Health(r.Context()); err != nil {
		h.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusSuccess})
}

type recognizeRequest struct {
	ImageData string `json:"image_data"`
}

type recognizeResponse struct {
	*models.Response
	DifferentBranch bool `json:"different_branch"`
}

func (h *Handlers) Recognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := decodeBody(r, &req); err != nil || req.ImageData == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "image_data is required", "")
		return
	}
	rec, err := h.app.Recognize(r.Context(), req.ImageData)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recognizeResponse{Response: rec.Response, DifferentBranch: rec.DifferentBranch})
}

type registerRequest struct {
	ImageData    string `json:"image_data"`
	CustomerName string `json:"customer_name"`
	OrderDetails string `json:"order_details"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil || req.ImageData == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "image_data is required", "")
		return
	}
	resp, err := h.app.Register(r.Context(), req.ImageData, req.CustomerName, req.OrderDetails)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
