package admin

import (
	"context"
	stderrors "errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"ipauth/internal/allowlist"
	"ipauth/internal/config"
	"ipauth/internal/core/errors"
	"ipauth/internal/metrics"
	"ipauth/internal/store"
	"ipauth/internal/store/kvstore"
)

func newEditor(t *testing.T) (*Editor, store.Store, *store.Account) {
	t.Helper()
	s := kvstore.NewMemory()
	account := &store.Account{Login: "alice", Role: store.RoleSubscriber}
	if err := s.CreateAccount(context.Background(), account); err != nil {
		t.Fatal(err)
	}
	return New(s, nil, nil), s, account
}

func strPtr(s string) *string { return &s }

func TestValidate(t *testing.T) {
	e, _, _ := newEditor(t)

	cases := []struct {
		name    string
		in      string
		want    string
		invalid []string
	}{
		{"empty", "", "", nil},
		{"blank", "   ", "", nil},
		{"single", "1.2.3.4", "1.2.3.4", nil},
		{"ipv6", "::1,2001:db8::1", "::1,2001:db8::1", nil},
		{"spaces around tokens", " 1.2.3.4 , 5.6.7.8 ", "1.2.3.4 , 5.6.7.8", nil},
		{"one bad token", "1.2.3.4,nope", "", []string{"nope"}},
		{"several bad tokens", "a,1.2.3.4,b", "", []string{"a", "b"}},
		{"trailing comma", "1.2.3.4,", "", []string{""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Validate(tc.in)
			if tc.invalid == nil {
				if err != nil {
					t.Fatalf("Validate(%q) error = %v", tc.in, err)
				}
				if got != tc.want {
					t.Fatalf("Validate(%q) = %q, want %q", tc.in, got, tc.want)
				}
				return
			}
			var se *errors.ServiceError
			if !stderrors.As(err, &se) || se.Code != errors.CodeWrongIP {
				t.Fatalf("Validate(%q) error = %v, want wrongIP", tc.in, err)
			}
			if !reflect.DeepEqual(se.Details["invalid"], tc.invalid) {
				t.Fatalf("invalid tokens = %v, want %v", se.Details["invalid"], tc.invalid)
			}
		})
	}
}

func TestSaveOnEdit(t *testing.T) {
	ctx := context.Background()
	e, s, account := newEditor(t)

	if err := e.SaveOnEdit(ctx, account.ID, "1.2.3.4, 5.6.7.8"); err != nil {
		t.Fatalf("SaveOnEdit: %v", err)
	}
	if got, _ := e.FieldValue(ctx, account.ID); got != "1.2.3.4, 5.6.7.8" {
		t.Fatalf("FieldValue = %q", got)
	}

	err := e.SaveOnEdit(ctx, account.ID, "9.9.9.9,bogus")
	if !stderrors.Is(err, errors.ErrWrongIP) {
		t.Fatalf("SaveOnEdit invalid: err = %v, want wrongIP", err)
	}
	if got, _ := e.FieldValue(ctx, account.ID); got != "1.2.3.4, 5.6.7.8" {
		t.Fatalf("rejected submission changed the list to %q", got)
	}

	if err := e.SaveOnEdit(ctx, account.ID, ""); err != nil {
		t.Fatalf("SaveOnEdit clear: %v", err)
	}
	if _, err := s.GetMeta(ctx, account.ID, allowlist.MetaKey); !stderrors.Is(err, store.ErrNotFound) {
		t.Fatalf("clearing left meta behind: %v", err)
	}
}

func TestSaveOnCreate(t *testing.T) {
	ctx := context.Background()
	e, s, account := newEditor(t)

	if err := e.SaveOnCreate(ctx, account.ID, ""); err != nil {
		t.Fatalf("SaveOnCreate empty: %v", err)
	}
	if _, err := s.GetMeta(ctx, account.ID, allowlist.MetaKey); !stderrors.Is(err, store.ErrNotFound) {
		t.Fatalf("empty submission stored a value: %v", err)
	}

	if err := e.SaveOnCreate(ctx, account.ID, "1.2.3.4"); err != nil {
		t.Fatalf("SaveOnCreate: %v", err)
	}
	if got, _ := e.FieldValue(ctx, account.ID); got != "1.2.3.4" {
		t.Fatalf("FieldValue = %q", got)
	}

	err := e.SaveOnCreate(ctx, account.ID, "5.6.7.8")
	var se *errors.ServiceError
	if !stderrors.As(err, &se) || se.Code != errors.CodeConflict {
		t.Fatalf("second SaveOnCreate err = %v, want conflict", err)
	}
}

func TestColumn(t *testing.T) {
	ctx := context.Background()
	e, _, account := newEditor(t)

	if got, _ := e.Column(ctx, account.ID); got != PlaceholderNoIP {
		t.Fatalf("Column without list = %q, want %q", got, PlaceholderNoIP)
	}
	if err := e.SaveOnEdit(ctx, account.ID, "1.2.3.4"); err != nil {
		t.Fatal(err)
	}
	if got, _ := e.Column(ctx, account.ID); got != "1.2.3.4" {
		t.Fatalf("Column = %q", got)
	}
}

func TestCreateAccount(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEditor(t)

	account, err := e.CreateAccount(ctx, NewAccount{Login: "bob", Password: "secret", AllowedIPs: "10.0.0.1"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if account.Role != store.RoleSubscriber {
		t.Fatalf("default role = %q", account.Role)
	}
	if got, _ := e.FieldValue(ctx, account.ID); got != "10.0.0.1" {
		t.Fatalf("allow-list = %q", got)
	}

	_, err = e.CreateAccount(ctx, NewAccount{Login: "carol", Password: "secret", AllowedIPs: "10.0.0.1,x"})
	if !stderrors.Is(err, errors.ErrWrongIP) {
		t.Fatalf("invalid list: err = %v, want wrongIP", err)
	}
	if _, err := s.FindByLogin(ctx, "carol"); !stderrors.Is(err, store.ErrNotFound) {
		t.Fatalf("account created despite invalid list: %v", err)
	}

	_, err = e.CreateAccount(ctx, NewAccount{Login: "bob", Password: "other"})
	var se *errors.ServiceError
	if !stderrors.As(err, &se) || se.Code != errors.CodeConflict {
		t.Fatalf("duplicate login: err = %v, want conflict", err)
	}

	for _, in := range []NewAccount{
		{Password: "x"},
		{Login: "dave"},
		{Login: "dave", Password: "x", Role: "root"},
	} {
		_, err := e.CreateAccount(ctx, in)
		if !stderrors.As(err, &se) || se.Code != errors.CodeValidationFailed {
			t.Errorf("CreateAccount(%+v) err = %v, want validation error", in, err)
		}
	}
}

type addMetaFailure struct {
	store.Store
	deleteErr error
}

func (addMetaFailure) AddMeta(context.Context, string, string, string) error {
	return stderrors.New("connection reset")
}

func (f addMetaFailure) DeleteAccount(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.DeleteAccount(ctx, id)
}

func TestCreateAccountRollsBackWhenListFailsToSave(t *testing.T) {
	ctx := context.Background()
	s := kvstore.NewMemory()
	e := New(addMetaFailure{Store: s}, nil, nil)

	account, err := e.CreateAccount(ctx, NewAccount{Login: "bob", Password: "secret", AllowedIPs: "10.0.0.1"})
	var se *errors.ServiceError
	if account != nil || !stderrors.As(err, &se) || se.Code != errors.CodeStorageError {
		t.Fatalf("CreateAccount = (%v, %v), want storage error", account, err)
	}
	if _, err := s.FindByLogin(ctx, "bob"); !stderrors.Is(err, store.ErrNotFound) {
		t.Fatalf("account left behind without its list: %v", err)
	}

	e = New(addMetaFailure{Store: s, deleteErr: stderrors.New("gone")}, nil, nil)
	_, err = e.CreateAccount(ctx, NewAccount{Login: "carol", Password: "secret", AllowedIPs: "10.0.0.1"})
	if !stderrors.As(err, &se) || se.Message != "account created without its allow-list" {
		t.Fatalf("failed rollback err = %v", err)
	}
}

func TestUpdateProfileKeepsOtherFieldsOnRejectedList(t *testing.T) {
	ctx := context.Background()
	e, s, account := newEditor(t)
	if err := e.SaveOnEdit(ctx, account.ID, "1.2.3.4"); err != nil {
		t.Fatal(err)
	}

	updated, err := e.UpdateProfile(ctx, ProfileUpdate{
		AccountID:   account.ID,
		Email:       strPtr("alice@example.com"),
		DisplayName: strPtr("Alice"),
		AllowedIPs:  strPtr("not-an-ip"),
	})
	if !stderrors.Is(err, errors.ErrWrongIP) {
		t.Fatalf("UpdateProfile err = %v, want wrongIP", err)
	}
	if updated == nil || updated.Email != "alice@example.com" {
		t.Fatalf("updated account = %+v", updated)
	}

	stored, err := s.GetAccount(ctx, account.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Email != "alice@example.com" || stored.DisplayName != "Alice" {
		t.Fatalf("profile fields not saved: %+v", stored)
	}
	if got, _ := e.FieldValue(ctx, account.ID); got != "1.2.3.4" {
		t.Fatalf("allow-list changed to %q", got)
	}
}

func TestUpdateProfileUnknownAccount(t *testing.T) {
	e, _, _ := newEditor(t)
	_, err := e.UpdateProfile(context.Background(), ProfileUpdate{AccountID: "missing"})
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestTable(t *testing.T) {
	ctx := context.Background()
	e, _, alice := newEditor(t)
	if err := e.SaveOnEdit(ctx, alice.ID, "1.2.3.4"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateAccount(ctx, NewAccount{Login: "bob", Password: "pw"}); err != nil {
		t.Fatal(err)
	}

	rows, err := e.Table(ctx)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	got := map[string]string{}
	for _, r := range rows {
		got[r.Login] = r.AllowedIPs
	}
	want := map[string]string{"alice": "1.2.3.4", "bob": PlaceholderNoIP}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Table = %v, want %v", got, want)
	}
}

func TestEditorRecordsMetrics(t *testing.T) {
	ctx := context.Background()
	s := kvstore.NewMemory()
	account := &store.Account{Login: "alice"}
	if err := s.CreateAccount(ctx, account); err != nil {
		t.Fatal(err)
	}
	m := metrics.NewCollector()
	e := New(s, nil, m)

	_ = e.SaveOnEdit(ctx, account.ID, "1.2.3.4")
	_ = e.SaveOnEdit(ctx, account.ID, "bad")
	_ = e.SaveOnEdit(ctx, account.ID, "")

	if n := testutil.CollectAndCount(m.Registry(), "ipauth_allowlist_updates_total"); n != 3 {
		t.Fatalf("update series = %d, want 3", n)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	e, s, _ := newEditor(t)
	cfg := &config.BootstrapAccount{Login: "admin", Password: "change-me", AllowedIPs: "127.0.0.1"}

	created, err := e.Bootstrap(ctx, cfg)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !created.IsAdministrator() {
		t.Fatalf("bootstrap account role = %q", created.Role)
	}
	if got, _ := e.FieldValue(ctx, created.ID); got != "127.0.0.1" {
		t.Fatalf("bootstrap allow-list = %q", got)
	}

	again, err := e.Bootstrap(ctx, cfg)
	if err != nil || again.ID != created.ID {
		t.Fatalf("second Bootstrap = (%+v, %v), want existing account", again, err)
	}
	accounts, _ := s.ListAccounts(ctx)
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}

	if a, err := e.Bootstrap(ctx, nil); a != nil || err != nil {
		t.Fatalf("Bootstrap(nil) = (%v, %v)", a, err)
	}
}
