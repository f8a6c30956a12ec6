package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"imagesearch/internal/apperr"
)

// WriteJSON encodes data as JSON and writes it to the response with the
// given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the §7 wire shape: {error:{kind,message}}.
type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

// WriteError writes the taxonomy error shape at the status apperr.Kind
// maps to. A plain message with no *apperr.Error is reported as Fatal.
func WriteError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.New(apperr.KindFatal, err.Error())
	}
	WriteJSON(w, ae.HTTPStatus(), map[string]errorBody{
		"error": {Kind: ae.Kind, Message: ae.Message},
	})
}

// WritePlainError writes a bare {error:{kind,message}} body at status,
// for validation failures that never reached a component.
func WritePlainError(w http.ResponseWriter, status int, kind apperr.Kind, message string) {
	WriteJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: message}})
}

// ReadJSONBody decodes the request body as JSON into v, limiting the body
// to 1MB and rejecting trailing data, matching the teacher's helper.
func ReadJSONBody(r *http.Request, v interface{}) error {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("expected Content-Type application/json")
	}
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, 1<<20)
	decoder := json.NewDecoder(limited)
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("unexpected trailing data in request body")
	}
	return nil
}

// CheckAdminAuth reports whether the request's bearer token satisfies the
// single operator credential. When no admin token is configured, auth is
// disabled and every request passes.
func CheckAdminAuth(app *App, r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return app.cfg.CheckAdminToken(token)
}
