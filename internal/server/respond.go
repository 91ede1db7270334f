package server

import (
	"encoding/json"
	"net/http"

	"github.com/heraldlabs/herald/internal/domain"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorBody is the uniform error envelope. Fields names the offending
// payload fields for validation failures.
type errorBody struct {
	Error  string   `json:"error"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields,omitempty"`
}

// writeError maps a domain error to its HTTP status and envelope.
// Unclassified errors become 500 with a generic message; the cause goes to
// the log, not the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)

	msg := err.Error()
	if kind == domain.KindInternal {
		s.log.Error().Err(err).Msg("Request failed")
		msg = "internal error"
	}

	s.writeJSON(w, kind.HTTPStatus(), errorBody{
		Error:  msg,
		Kind:   kind.String(),
		Fields: domain.FieldsOf(err),
	})
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("invalid JSON body: " + err.Error())
	}
	return nil
}
