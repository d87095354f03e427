package errors

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Authentication failure codes
const (
	CodeInvalidIP         = "invalid_ip"
	CodeEmptyCredentials  = "empty_credentials"
	CodeInvalidUsername   = "invalid_username"
	CodeIncorrectPassword = "incorrect_password"
	CodeInternal          = "internal_error"
)

// Bilingual messages, French first.
const (
	MessageInvalidIP         = "Erreur : L'adresse IP n'est pas valide. / Error: the IP address is not valid."
	MessageEmptyCredentials  = "Erreur : L'identifiant et le mot de passe sont requis. / Error: login and password are required."
	MessageInvalidUsername   = "Erreur : Identifiant inconnu. / Error: unknown login."
	MessageIncorrectPassword = "Erreur : Le mot de passe est incorrect. / Error: the password is incorrect."
	MessageInternal          = "Erreur : Service indisponible. / Error: service unavailable."
)

// AuthEntry is one failure reason attached to an authentication attempt.
type AuthEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthError collects every failure reason raised while authenticating.
// Stages append to an existing AuthError instead of replacing it.
type AuthError struct {
	entries []AuthEntry
}

// NewAuthError creates an AuthError holding a single entry
func NewAuthError(code, message string) *AuthError {
	e := &AuthError{}
	return e.Add(code, message)
}

// NewInvalidIPError creates the error raised when the client IP is not allowed
func NewInvalidIPError() *AuthError {
	return NewAuthError(CodeInvalidIP, MessageInvalidIP)
}

// Add appends an entry and returns the receiver
func (e *AuthError) Add(code, message string) *AuthError {
	e.entries = append(e.entries, AuthEntry{Code: code, Message: message})
	return e
}

// Has reports whether an entry with code is present
func (e *AuthError) Has(code string) bool {
	for _, entry := range e.entries {
		if entry.Code == code {
			return true
		}
	}
	return false
}

// Codes returns entry codes in insertion order
func (e *AuthError) Codes() []string {
	codes := make([]string, 0, len(e.entries))
	for _, entry := range e.entries {
		codes = append(codes, entry.Code)
	}
	return codes
}

// Entries returns a copy of all entries
func (e *AuthError) Entries() []AuthEntry {
	out := make([]AuthEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

func (e *AuthError) Error() string {
	parts := make([]string, 0, len(e.entries))
	for _, entry := range e.entries {
		parts = append(parts, entry.Code+": "+entry.Message)
	}
	return strings.Join(parts, "; ")
}

// HTTPStatusCode is 403 when the only reason is the client IP, 401 otherwise.
func (e *AuthError) HTTPStatusCode() int {
	if len(e.entries) == 1 && e.entries[0].Code == CodeInvalidIP {
		return http.StatusForbidden
	}
	if e.Has(CodeInternal) {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// WriteHTTP writes the error to an HTTP response
func (e *AuthError) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatusCode())

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  "AUTHENTICATION_FAILED",
		"errors": e.entries,
	})
}
