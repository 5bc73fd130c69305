// Package httpx provides JSON response and request utilities.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Pagination describes the page window returned alongside list payloads.
type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Total int `json:"total"`
}

type envelope struct {
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Data wraps the payload in the standard {"data": ...} envelope.
func Data(w http.ResponseWriter, status int, payload any) {
	JSON(w, status, envelope{Data: payload})
}

// Paginated wraps a list payload with its pagination window.
func Paginated(w http.ResponseWriter, status int, payload any, p Pagination) {
	JSON(w, status, envelope{Data: payload, Pagination: &p})
}

// Message sends a bare {"message": ...} body.
func Message(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, errorBody{Message: msg})
}

// DecodeJSON decodes the request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
