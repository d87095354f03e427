package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"ipauth/internal/admin"
	"ipauth/internal/config"
	"ipauth/internal/core/errors"
	"ipauth/internal/logging"
	"ipauth/internal/metrics"
	"ipauth/internal/store"
	"ipauth/internal/store/kvstore"
)

const testSecret = "test-secret-0123456789"

type testServer struct {
	*Server
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Security.Jwt.Secret = testSecret
	cfg.Security.LoginRateLimit.Enabled = false
	cfg.Server.EnableLogging = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(Dependencies{
		Config:  cfg,
		Logger:  logging.NewNop(),
		Metrics: metrics.NewCollector(),
		Store:   kvstore.NewMemory(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testServer{Server: srv}
}

func (ts *testServer) createAccount(t *testing.T, in admin.NewAccount) *store.Account {
	t.Helper()
	account, err := ts.editor.CreateAccount(context.Background(), in)
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", in.Login, err)
	}
	return account
}

func (ts *testServer) do(t *testing.T, method, target, token string, body interface{}, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &payload)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, login, password, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/login", "", loginRequest{Login: login, Password: password}, remoteAddr)
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	ts.createAccount(t, admin.NewAccount{Login: "root", Password: "rootpw", Role: store.RoleAdministrator})
	rec := ts.login(t, "root", "rootpw", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.Token
}

func errorCodes(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Errors []errors.AuthEntry `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	codes := make([]string, 0, len(body.Errors))
	for _, e := range body.Errors {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createAccount(t, admin.NewAccount{Login: "alice", Password: "pw", AllowedIPs: "10.0.0.1, 10.0.0.2"})
	ts.createAccount(t, admin.NewAccount{Login: "bob", Password: "pw"})

	cases := []struct {
		name       string
		login, pw  string
		remoteAddr string
		status     int
		codes      []string
	}{
		{"listed ip", "alice", "pw", "10.0.0.2:5555", http.StatusOK, nil},
		{"unlisted ip", "alice", "pw", "10.9.9.9:5555", http.StatusForbidden, []string{errors.CodeInvalidIP}},
		{"wrong password unlisted ip", "alice", "no", "10.9.9.9:5555", http.StatusUnauthorized, []string{errors.CodeIncorrectPassword, errors.CodeInvalidIP}},
		{"wrong password listed ip", "alice", "no", "10.0.0.1:5555", http.StatusUnauthorized, []string{errors.CodeIncorrectPassword}},
		{"no list", "bob", "pw", "203.0.113.7:80", http.StatusOK, nil},
		{"unknown login", "carol", "pw", "10.0.0.1:5555", http.StatusUnauthorized, []string{errors.CodeInvalidUsername}},
		{"empty", "", "", "10.0.0.1:5555", http.StatusUnauthorized, []string{errors.CodeEmptyCredentials}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.login(t, tc.login, tc.pw, tc.remoteAddr)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			if tc.codes == nil {
				var resp loginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Token == "" {
					t.Fatalf("no token in %s", rec.Body.String())
				}
				if resp.Account.Login != tc.login {
					t.Fatalf("account = %+v", resp.Account)
				}
				return
			}
			if got := errorCodes(t, rec); !reflect.DeepEqual(got, tc.codes) {
				t.Fatalf("codes = %v, want %v", got, tc.codes)
			}
		})
	}
}

func TestLoginForm(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createAccount(t, admin.NewAccount{Login: "alice", Password: "pw", AllowedIPs: "192.0.2.1"})

	form := url.Values{"log": {"alice"}, "pwd": {"pw"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginForwardedFor(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		remoteAddr string
		xff        []string
		want       int
	}{
		{"header ignored when not trusted", false, "10.0.0.1:4000", []string{"1.2.3.4"}, http.StatusForbidden},
		{"peer outside trusted proxies", true, "6.6.6.6:4000", []string{"1.2.3.4"}, http.StatusForbidden},
		{"client appended by proxy", true, "10.0.0.1:4000", []string{"1.2.3.4"}, http.StatusOK},
		{"forged left-most hop", true, "10.0.0.1:5555", []string{"1.2.3.4, 6.6.6.6"}, http.StatusForbidden},
		{"chain of trusted proxies", true, "10.0.0.1:4000", []string{"1.2.3.4, 10.0.0.2"}, http.StatusOK},
		{"forged hop across header lines", true, "10.0.0.1:4000", []string{"1.2.3.4", "6.6.6.6"}, http.StatusForbidden},
		{"malformed hop", true, "10.0.0.1:4000", []string{"1.2.3.4, bogus"}, http.StatusForbidden},
		{"no header", true, "10.0.0.1:4000", nil, http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, func(c *config.Config) {
				c.Security.TrustForwardedFor = tc.trust
				c.Security.TrustedProxies = []string{"10.0.0.0/24"}
			})
			ts.createAccount(t, admin.NewAccount{Login: "alice", Password: "pw", AllowedIPs: "1.2.3.4"})

			req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"login":"alice","password":"pw"}`))
			req.Header.Set("Content-Type", "application/json")
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			req.RemoteAddr = tc.remoteAddr
			rec := httptest.NewRecorder()
			ts.Handler().ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestForwardedForRequiresTrustedProxies(t *testing.T) {
	cfg := config.Default()
	cfg.Security.Jwt.Secret = testSecret
	cfg.Security.TrustForwardedFor = true
	_, err := New(Dependencies{Config: cfg, Logger: logging.NewNop(), Store: kvstore.NewMemory()})
	if err == nil {
		t.Fatal("expected an error without trusted proxies")
	}
}

func TestLoginRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Security.LoginRateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.01, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		if rec := ts.login(t, "nobody", "pw", "198.51.100.1:1"); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("attempt %d limited", i+1)
		}
	}
	rec := ts.login(t, "nobody", "pw", "198.51.100.1:1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
	if rec := ts.login(t, "nobody", "pw", "198.51.100.2:1"); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("other client limited")
	}
}

func TestAdminRequiresAdministrator(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createAccount(t, admin.NewAccount{Login: "alice", Password: "pw"})

	if rec := ts.do(t, http.MethodGet, "/api/v1/admin/accounts", "", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/admin/accounts", "garbage", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", rec.Code)
	}

	rec := ts.login(t, "alice", "pw", "")
	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if rec := ts.do(t, http.MethodGet, "/api/v1/admin/accounts", resp.Token, nil, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("subscriber token: status = %d, want 403", rec.Code)
	}
}

func TestAdminAllowedIPs(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.adminToken(t)
	alice := ts.createAccount(t, admin.NewAccount{Login: "alice", Password: "pw"})
	path := "/api/v1/admin/accounts/" + alice.ID + "/allowed-ips"

	rec := ts.do(t, http.MethodPut, path, token, allowedIPsBody{AllowedIPs: " 10.0.0.1 ,::1"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	var body allowedIPsBody
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.AllowedIPs != "10.0.0.1 ,::1" {
		t.Fatalf("stored list = %q", body.AllowedIPs)
	}

	rec = ts.do(t, http.MethodPut, path, token, allowedIPsBody{AllowedIPs: "10.0.0.1,oops"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid PUT status = %d, want 400", rec.Code)
	}
	var failure struct {
		Error string `json:"error"`
	}
	json.Unmarshal(rec.Body.Bytes(), &failure)
	if failure.Error != errors.CodeWrongIP {
		t.Fatalf("error code = %q, want wrongIP", failure.Error)
	}

	rec = ts.do(t, http.MethodGet, path, token, nil, "")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.AllowedIPs != "10.0.0.1 ,::1" {
		t.Fatalf("rejected PUT changed the list to %q", body.AllowedIPs)
	}

	if rec := ts.do(t, http.MethodDelete, path, token, nil, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, path, token, nil, "")
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.AllowedIPs != "" {
		t.Fatalf("list after DELETE = %q", body.AllowedIPs)
	}

	if rec := ts.do(t, http.MethodGet, "/api/v1/admin/accounts/missing/allowed-ips", token, nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d, want 404", rec.Code)
	}
}

func TestAdminAccounts(t *testing.T) {
	ts := newTestServer(t, nil)
	token := ts.adminToken(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/accounts", token,
		admin.NewAccount{Login: "alice", Password: "pw", AllowedIPs: "10.0.0.1"}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created accountDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.AllowedIPs != "10.0.0.1" || created.Role != store.RoleSubscriber {
		t.Fatalf("created = %+v", created)
	}
	if strings.Contains(rec.Body.String(), "password_hash") {
		t.Fatalf("password hash leaked: %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/accounts", token,
		admin.NewAccount{Login: "bob", Password: "pw", AllowedIPs: "nope"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid create status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/admin/accounts/"+created.ID, token,
		map[string]string{"display_name": "Alice", "list_ip": "bad"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("update with bad list status = %d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/v1/admin/accounts/"+created.ID, token, nil, "")
	var detail accountDetail
	json.Unmarshal(rec.Body.Bytes(), &detail)
	if detail.DisplayName != "Alice" || detail.AllowedIPs != "10.0.0.1" {
		t.Fatalf("detail after partial update = %+v", detail)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/accounts", token, nil, "")
	var table struct {
		Column   string      `json:"column"`
		Accounts []admin.Row `json:"accounts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatal(err)
	}
	if table.Column != admin.ColumnTitle || len(table.Accounts) != 2 {
		t.Fatalf("table = %+v", table)
	}
	for _, row := range table.Accounts {
		if row.Login == "root" && row.AllowedIPs != admin.PlaceholderNoIP {
			t.Fatalf("root column = %q", row.AllowedIPs)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", "", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"UP"`) {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	ts.login(t, "nobody", "pw", "")
	rec = ts.do(t, http.MethodGet, "/metrics", "", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ipauth_login_attempts_total") {
		t.Fatalf("metrics = %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodGet, "/nope", "", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", rec.Code)
	}
}

func TestBootstrap(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Bootstrap.Admin = &config.BootstrapAccount{Login: "admin", Password: "adminpw", AllowedIPs: "127.0.0.1"}
	})
	if err := ts.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if rec := ts.login(t, "admin", "adminpw", "127.0.0.1:9999"); rec.Code != http.StatusOK {
		t.Fatalf("bootstrap admin login = %d", rec.Code)
	}
	if rec := ts.login(t, "admin", "adminpw", "10.0.0.1:9999"); rec.Code != http.StatusForbidden {
		t.Fatalf("bootstrap admin from other ip = %d, want 403", rec.Code)
	}
}
