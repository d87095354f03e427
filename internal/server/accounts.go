package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"ipauth/internal/admin"
	"ipauth/internal/core/errors"
	"ipauth/internal/logging"
	"ipauth/internal/store"
)

const maxBodyBytes = 1 << 20

// accountView is an account without its password hash.
type accountView struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func viewOf(a *store.Account) accountView {
	return accountView{
		ID:          a.ID,
		Login:       a.Login,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Role:        a.Role,
		CreatedAt:   a.CreatedAt,
	}
}

type accountDetail struct {
	accountView
	AllowedIPs string `json:"list_ip"`
}

type allowedIPsBody struct {
	AllowedIPs string `json:"list_ip"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders service errors with their own status and hides
// anything else behind a 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var se *errors.ServiceError
	if stderrors.As(err, &se) {
		if se.HTTPStatusCode() >= http.StatusInternalServerError {
			s.logger.Error("Admin request failed", err, logging.String("path", r.URL.Path))
		}
		se.WriteHTTP(w)
		return
	}
	s.logger.Error("Admin request failed", err, logging.String("path", r.URL.Path))
	errors.NewStorageError("internal error", err).WriteHTTP(w)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewBadRequestError("invalid request body", err)
	}
	return nil
}

// loadAccount resolves the {id} path variable.
func (s *Server) loadAccount(r *http.Request) (*store.Account, error) {
	id := mux.Vars(r)["id"]
	account, err := s.store.GetAccount(r.Context(), id)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, errors.ErrNotFound.WithDetails(map[string]interface{}{"account_id": id})
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load account", err)
	}
	return account, nil
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.editor.Table(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"column":   admin.ColumnTitle,
		"accounts": rows,
	})
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var in admin.NewAccount
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := s.editor.CreateAccount(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.editor.FieldValue(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/accounts/"+account.ID)
	writeJSON(w, http.StatusCreated, accountDetail{accountView: viewOf(account), AllowedIPs: list})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.loadAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.editor.FieldValue(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDetail{accountView: viewOf(account), AllowedIPs: list})
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	var u admin.ProfileUpdate
	if err := decodeBody(w, r, &u); err != nil {
		s.writeError(w, r, err)
		return
	}
	u.AccountID = mux.Vars(r)["id"]

	if _, err := s.editor.UpdateProfile(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getAccount(w, r)
}

func (s *Server) getAllowedIPs(w http.ResponseWriter, r *http.Request) {
	account, err := s.loadAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.editor.FieldValue(r.Context(), account.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allowedIPsBody{AllowedIPs: list})
}

func (s *Server) putAllowedIPs(w http.ResponseWriter, r *http.Request) {
	account, err := s.loadAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body allowedIPsBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.editor.SaveOnEdit(r.Context(), account.ID, body.AllowedIPs); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.getAllowedIPs(w, r)
}

func (s *Server) deleteAllowedIPs(w http.ResponseWriter, r *http.Request) {
	account, err := s.loadAccount(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.editor.SaveOnEdit(r.Context(), account.ID, ""); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
