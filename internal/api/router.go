package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"facekiosk/internal/mobile"
	"facekiosk/internal/validate"
)

// NewRouter serves the operator surface of app. limiter may be nil.
func NewRouter(app *mobile.App, limiter *RateLimiter) (*mux.Router, error) {
	schema, err := validate.NewSettingsSchema()
	if err != nil {
		return nil, err
	}
	logger := app.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{app: app, schema: schema, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			logger.Debug("health write failed", "error", err)
		}
	}).Methods("GET")
	r.HandleFunc("/logs", h.GetLogs).Methods("GET")
	r.HandleFunc("/logs", h.ClearLogs).Methods("DELETE")
	r.HandleFunc("/logs/export", h.ExportLogs).Methods("GET")
	r.HandleFunc("/settings", h.GetSettings).Methods("GET")
	r.HandleFunc("/settings", h.UpdateSettings).Methods("PUT")
	r.HandleFunc("/settings/reset", h.ResetSettings).Methods("POST")
	r.HandleFunc("/network", h.GetNetwork).Methods("GET")
	r.HandleFunc("/server/health", h.ServerHealth).Methods("GET")
	r.HandleFunc("/recognize", h.Recognize).Methods("POST")
	r.HandleFunc("/register", h.Register).Methods("POST")

	r.Use(LogRequests(logger))
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	return r, nil
}
