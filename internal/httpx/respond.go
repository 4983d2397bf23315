package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
)

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 1 << 20

var ErrBodyTooLarge = &apperr.Error{
	Kind:    apperr.KindInvalidInput,
	Code:    "body_too_large",
	Message: "request body is too large",
	Status:  http.StatusRequestEntityTooLarge,
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		code = http.StatusInternalServerError
		response = []byte(`{"success":false,"error":"internal","message":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func RespondWithMessage(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, map[string]interface{}{
		"success": code < 400,
		"message": message,
	})
}

// RespondWithError maps err onto the apperr taxonomy. Only the stable code
// and short message leave the process; the cause is logged.
func RespondWithError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal("internal error", err)
	}

	status := StatusFor(ae)
	message := ae.Message
	switch ae.Kind {
	case apperr.KindPersistence:
		message = "persistence failure"
	case apperr.KindInternal:
		message = "internal error"
	}

	if logger != nil {
		entry := logger.WithFields(logrus.Fields{
			"error_code": ae.Code,
			"status":     status,
		})
		if status >= http.StatusInternalServerError {
			entry.WithError(err).Error("Request failed")
		} else {
			entry.WithError(err).Info("Request rejected")
		}
	}

	RespondWithJSON(w, status, errorBody{Success: false, Error: ae.Code, Message: message})
}

func StatusFor(ae *apperr.Error) int {
	if ae.Status != 0 {
		return ae.Status
	}
	switch ae.Kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSON decodes a body of at most MaxBodyBytes into v, rejecting
// garbage with an InvalidInput error.
func DecodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apperr.InvalidInput("invalid_body", "request body is required")
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodyBytes)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrBodyTooLarge
		}
		return apperr.InvalidInput("invalid_body", "invalid request body")
	}
	return nil
}

// PathID reads a positive integer route variable.
func PathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput("invalid_"+name, name+" must be a positive integer")
	}
	return id, nil
}
