package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
)

// maxJSONBody bounds request bodies accepted by the callback endpoints.
const maxJSONBody = 64 << 10

// apiError is the JSON body written for rejected callback requests.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DecodeJSON reads a single JSON value from the request body into dst. On
// failure it writes a 400 (or 413 for oversized bodies) and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return false
	}
	WriteError(w, http.StatusBadRequest, "invalid_json", err)
	return false
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// WriteError writes an apiError with the given status and machine-readable code.
func WriteError(w http.ResponseWriter, status int, code string, err error) {
	WriteJSON(w, status, apiError{Error: code, Message: err.Error()})
}
