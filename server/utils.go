package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/onnwee/task-overlay/channels"
	"github.com/onnwee/task-overlay/notion"
	"github.com/onnwee/task-overlay/tasks"
	"github.com/onnwee/task-overlay/telemetry"
)

// maxBodyBytes bounds request payloads.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// errorStatus maps a domain error onto a status, a stable code and a message
// safe to show a viewer.
func errorStatus(err error) (int, string, string) {
	var (
		ve  *tasks.ValidationError
		pe  *tasks.ProhibitedContentError
		nf  *tasks.NotFoundError
		fe  *tasks.ForbiddenError
		vfe validator.ValidationErrors
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_request", ve.Error()
	case errors.As(err, &vfe):
		return http.StatusBadRequest, "invalid_request", describeValidation(vfe)
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity, "prohibited_content", pe.Error()
	case errors.As(err, &nf):
		return http.StatusNotFound, "not_found", "No matching task found."
	case errors.As(err, &fe):
		return http.StatusForbidden, "forbidden", "Only moderators can do that."
	case errors.Is(err, channels.ErrNotConfigured):
		return http.StatusConflict, "not_configured", "The task board has not been set up for this channel."
	case errors.Is(err, notion.ErrUnauthorized):
		return http.StatusBadGateway, "store_unauthorized", "The Notion integration was rejected. Check the API key."
	}
	return http.StatusInternalServerError, "internal", "Internal server error."
}

// writeError logs server-side failures and writes the mapped error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
	if status >= 500 {
		log.Error("request failed", slog.String("path", r.URL.Path), slog.String("code", code), slog.Any("err", err))
	} else {
		log.Debug("request rejected", slog.String("path", r.URL.Path), slog.String("code", code), slog.Any("err", err))
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// decodeBody reads a JSON payload into v and validates its struct tags.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return &tasks.ValidationError{Field: "body", Message: "invalid json"}
	}
	return h.validate.Struct(v)
}

// getEnvInt returns an integer environment variable value or default if not set or invalid.
func getEnvInt(key string, defaultVal int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return defaultVal
}
