package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"ipauth/internal/core/errors"
	"ipauth/internal/core/pipeline"
	"ipauth/internal/logging"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Account   accountView `json:"account"`
}

// decodeLogin accepts a JSON body or the classic log/pwd form fields.
func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, error) {
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.Login = firstNonEmpty(r.PostForm.Get("log"), r.PostForm.Get("login"))
	req.Password = firstNonEmpty(r.PostForm.Get("pwd"), r.PostForm.Get("password"))
	return req, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(w, r)
	if err != nil {
		errors.NewBadRequestError("invalid login request", err).WriteHTTP(w)
		return
	}

	attempt := pipeline.Attempt{
		Login:    strings.TrimSpace(req.Login),
		Password: req.Password,
		ClientIP: s.clientIP(r),
	}
	out := s.pipeline.Run(r.Context(), attempt)

	if !out.OK() {
		codes := out.Err.Codes()
		s.logger.LogLoginAttempt(attempt.Login, attempt.ClientIP, codes)
		if s.metrics != nil {
			s.metrics.RecordLogin(codes[0])
		}
		out.Err.WriteHTTP(w)
		return
	}

	token, expires, err := s.tokens.Issue(out.Account)
	if err != nil {
		s.logger.Error("Failed to issue token", err, logging.String("account_id", out.Account.ID))
		errors.NewAuthError(errors.CodeInternal, errors.MessageInternal).WriteHTTP(w)
		return
	}

	s.logger.LogLoginAttempt(attempt.Login, attempt.ClientIP, nil)
	if s.metrics != nil {
		s.metrics.RecordLogin("success")
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expires,
		Account:   viewOf(out.Account),
	})
}
