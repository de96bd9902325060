package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/camden-git/faceidbackend/logger"
	"github.com/camden-git/faceidbackend/services"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

var kindStatus = map[services.Kind]int{
	services.KindValidation:     http.StatusBadRequest,
	services.KindDecode:         http.StatusBadRequest,
	services.KindDetection:      http.StatusUnprocessableEntity,
	services.KindNoTrainingData: http.StatusConflict,
	services.KindModelNotFound:  http.StatusServiceUnavailable,
	services.KindModelCorrupt:   http.StatusInternalServerError,
	services.KindTraining:       http.StatusInternalServerError,
	services.KindDatabase:       http.StatusInternalServerError,
	services.KindPersistence:    http.StatusInternalServerError,
}

// StatusForError maps a service error to its HTTP status.
func StatusForError(err error) int {
	if status, ok := kindStatus[services.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeServiceError reports err using its service kind as the error code.
// Internal errors get a generic detail; the cause only goes to the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := StatusForError(err)
	detail := err.Error()
	if kind == services.KindInternal {
		detail = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		logRequestError(r, err)
	}
	WriteAPIError(w, status, string(kind), detail)
}

func logRequestError(r *http.Request, err error) {
	logger.Error("handlers: request failed", "method", r.Method, "path", r.URL.Path, "kind", string(services.KindOf(err)), "error", err)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logger.Errorf("handlers: error encoding JSON response: %v", err)
		}
	}
}
