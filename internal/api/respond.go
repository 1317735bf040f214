package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

// writeError sends declines with their own status and code; anything else is
// logged and reported as an internal error without leaking details.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *client.ServerError
	if errors.As(err, &se) {
		code := se.Code
		if code == "" {
			code = constants.CodeInternal
		}
		h.metrics.IncrementDecline(code)
		writeJSON(w, se.Status, client.ErrorResponse{Error: code, Message: se.Message})
		return
	}
	logger.Error("Request failed",
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, client.ErrorResponse{
		Error:   constants.CodeInternal,
		Message: "Something went wrong. Please try again.",
	})
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res models.Result, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decode(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return client.NewServerError(http.StatusBadRequest, constants.CodeValidation, "Request body is required.")
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return client.NewServerError(http.StatusBadRequest, constants.CodeValidation, "Request body is not valid JSON.")
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, client.NewServerError(http.StatusBadRequest, constants.CodeValidation,
			fmt.Sprintf("Query parameter %s must be a number, got %q.", name, raw))
	}
	return n, nil
}
