package client

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ipauth/internal/config"
	"ipauth/internal/logging"
	"ipauth/internal/server"
	"ipauth/internal/store/kvstore"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Security.Jwt.Secret = "client-test-secret-000"
	cfg.Security.LoginRateLimit.Enabled = false
	cfg.Bootstrap.Admin = &config.BootstrapAccount{Login: "admin", Password: "adminpw"}

	srv, err := server.New(server.Dependencies{
		Config: cfg,
		Logger: logging.NewNop(),
		Store:  kvstore.NewMemory(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Bootstrap(context.Background()); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newServer(t)

	res, err := New(ts.URL, "").Login(ctx, "admin", "adminpw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	c := New(ts.URL, res.Token)

	created, err := c.CreateAccount(ctx, NewAccount{Login: "alice", Password: "pw"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	stored, err := c.SetAllowedIPs(ctx, created.ID, "127.0.0.1, ::1")
	if err != nil {
		t.Fatalf("SetAllowedIPs: %v", err)
	}
	if stored != "127.0.0.1, ::1" {
		t.Fatalf("stored = %q", stored)
	}

	_, err = c.SetAllowedIPs(ctx, created.ID, "localhost")
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "wrongIP" {
		t.Fatalf("invalid list err = %v", err)
	}

	if err := c.ClearAllowedIPs(ctx, created.ID); err != nil {
		t.Fatalf("ClearAllowedIPs: %v", err)
	}
	if got, err := c.GetAllowedIPs(ctx, created.ID); err != nil || got != "" {
		t.Fatalf("GetAllowedIPs after clear = (%q, %v)", got, err)
	}

	accounts, err := c.ListAccounts(ctx)
	if err != nil || len(accounts) != 2 {
		t.Fatalf("ListAccounts = (%v, %v)", accounts, err)
	}
}

func TestLoginFailureCarriesEntries(t *testing.T) {
	ts := newServer(t)

	_, err := New(ts.URL, "").Login(context.Background(), "admin", "wrong")
	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || len(apiErr.Errors) != 1 || apiErr.Errors[0].Code != "incorrect_password" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}
