package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/ledgerline/internal/failure"
)

// envelope is the body of every response.
type envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// errBadRequest marks malformed requests (bad JSON, bad query parameters).
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, err error, details any) {
	status, kind := statusFor(err)
	writeJSON(w, status, envelope{
		Status: "error",
		Error:  &errorBody{Kind: kind, Message: err.Error(), Details: details},
	})
}

// statusFor maps an error to its HTTP status and kind label.
func statusFor(err error) (int, string) {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest, "BAD_REQUEST"
	}
	switch kind := failure.KindOf(err); kind {
	case failure.KindValidation:
		return http.StatusUnprocessableEntity, string(kind)
	case failure.KindNotFound:
		return http.StatusNotFound, string(kind)
	case failure.KindTransientStore:
		return http.StatusServiceUnavailable, string(kind)
	case failure.KindConflict:
		return http.StatusConflict, string(kind)
	case failure.KindIntegrity:
		return http.StatusInternalServerError, string(kind)
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
