package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/model"
)

type stubCounter struct {
	total, failed int64
	err           error
}

func (s stubCounter) CountByEmail(context.Context, string) (int64, int64, error) {
	return s.total, s.failed, s.err
}

func newAdminFixture(t *testing.T) (*AdminService, *fakeStore, *fakeInvalidator, model.Identity) {
	t.Helper()

	store := newFakeStore()
	hasher := auth.NewPasswordHasher(4)
	admin := store.addUser(t, hasher, "admin", "admin@example.com", "secret1")
	store.addUser(t, hasher, "u7", "u7@example.com", "secret1")

	cache := &fakeInvalidator{}
	svc := NewAdminService(AdminConfig{
		Store:    store,
		Cache:    cache,
		Attempts: stubCounter{total: 5, failed: 2},
		Logger:   discardLogger(),
	})
	return svc, store, cache, admin.Identity()
}

func TestCreateBinding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        model.OwnerBindingCreateRequest
		wantDomain string
		wantOwner  string
		wantErr    error
	}{
		{"explicit owner", model.OwnerBindingCreateRequest{Domain: "Foo.Example.com", OwnerID: "u7"}, "foo.example.com", "u7", nil},
		{"defaults to admin", model.OwnerBindingCreateRequest{Domain: "https://admin.example.com/about"}, "https://admin.example.com", "admin", nil},
		{"invalid domain", model.OwnerBindingCreateRequest{Domain: "not a domain"}, "", "", ErrInvalidDomain},
		{"unknown owner", model.OwnerBindingCreateRequest{Domain: "bar.example.com", OwnerID: "ghost"}, "", "", ErrOwnerNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _, cache, admin := newAdminFixture(t)
			binding, err := svc.CreateBinding(context.Background(), admin, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if len(cache.deleted) != 0 {
					t.Errorf("cache invalidated on failure: %v", cache.deleted)
				}
				return
			}
			if binding.Domain != tt.wantDomain || binding.OwnerID != tt.wantOwner || binding.ID == "" {
				t.Errorf("binding = %+v", binding)
			}
			if binding.OwnerEmail == "" {
				t.Error("binding should carry the owner email")
			}
			if !reflect.DeepEqual(cache.deleted, []string{tt.wantDomain}) {
				t.Errorf("invalidated = %v, want [%s]", cache.deleted, tt.wantDomain)
			}
		})
	}
}

func TestCreateBinding_Duplicate(t *testing.T) {
	t.Parallel()

	svc, _, _, admin := newAdminFixture(t)
	req := model.OwnerBindingCreateRequest{Domain: "foo.example.com"}
	if _, err := svc.CreateBinding(context.Background(), admin, req); err != nil {
		t.Fatalf("first CreateBinding: %v", err)
	}
	req.Domain = "FOO.example.com"
	if _, err := svc.CreateBinding(context.Background(), admin, req); !errors.Is(err, ErrDomainTaken) {
		t.Errorf("err = %v, want ErrDomainTaken", err)
	}
}

func TestDeleteBinding(t *testing.T) {
	t.Parallel()

	svc, _, cache, admin := newAdminFixture(t)
	binding, err := svc.CreateBinding(context.Background(), admin, model.OwnerBindingCreateRequest{Domain: "foo.example.com"})
	if err != nil {
		t.Fatalf("CreateBinding: %v", err)
	}
	cache.deleted = nil

	deleted, err := svc.DeleteBinding(context.Background(), admin, binding.ID)
	if err != nil || deleted.ID != binding.ID {
		t.Fatalf("DeleteBinding = %+v, %v", deleted, err)
	}
	if !reflect.DeepEqual(cache.deleted, []string{"foo.example.com"}) {
		t.Errorf("invalidated = %v", cache.deleted)
	}

	if _, err := svc.DeleteBinding(context.Background(), admin, binding.ID); !errors.Is(err, ErrBindingNotFound) {
		t.Errorf("second delete err = %v, want ErrBindingNotFound", err)
	}
}

func TestDeleteUser(t *testing.T) {
	t.Parallel()

	svc, store, cache, admin := newAdminFixture(t)
	for _, domain := range []string{"b.example.com", "a.example.com"} {
		req := model.OwnerBindingCreateRequest{Domain: domain, OwnerID: "u7"}
		if _, err := svc.CreateBinding(context.Background(), admin, req); err != nil {
			t.Fatalf("CreateBinding: %v", err)
		}
	}
	cache.deleted = nil

	if err := svc.DeleteUser(context.Background(), admin, "u7"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if !reflect.DeepEqual(cache.deleted, []string{"a.example.com", "b.example.com"}) {
		t.Errorf("invalidated = %v", cache.deleted)
	}
	if bindings, _ := store.ListBindings(context.Background()); len(bindings) != 0 {
		t.Errorf("bindings left = %d, want 0", len(bindings))
	}

	if err := svc.DeleteUser(context.Background(), admin, "u7"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
	if err := svc.DeleteUser(context.Background(), admin, admin.ID); !errors.Is(err, ErrCannotDeleteSelf) {
		t.Errorf("err = %v, want ErrCannotDeleteSelf", err)
	}
}

func TestInvalidationFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	svc, _, cache, admin := newAdminFixture(t)
	cache.err = errStoreDown

	if _, err := svc.CreateBinding(context.Background(), admin, model.OwnerBindingCreateRequest{Domain: "foo.example.com"}); err != nil {
		t.Errorf("CreateBinding err = %v, want nil", err)
	}
}

func TestLoginAttempts(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newAdminFixture(t)

	stats, err := svc.LoginAttempts(context.Background(), " A@B.com ")
	if err != nil {
		t.Fatalf("LoginAttempts: %v", err)
	}
	if *stats != (LoginAttemptStats{Email: "a@b.com", Total: 5, Failed: 2}) {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := svc.LoginAttempts(context.Background(), "nope"); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("err = %v, want ErrInvalidEmail", err)
	}
}
