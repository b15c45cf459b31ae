package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/folio-cms/folio/internal/audit"
	"github.com/folio-cms/folio/internal/auth"
	"github.com/folio-cms/folio/internal/model"
	"github.com/folio-cms/folio/internal/repository"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory users + bindings store.
type fakeStore struct {
	mu       sync.Mutex
	err      error
	users    map[string]*model.User
	bindings map[string]*model.OwnerBinding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.User),
		bindings: make(map[string]*model.OwnerBinding),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	copied := *user
	f.users[user.ID] = &copied
	return nil
}

func (f *fakeStore) UserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) UserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (f *fakeStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, id string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return nil, repository.ErrUserNotFound
	}
	delete(f.users, id)

	var domains []string
	for key, b := range f.bindings {
		if b.OwnerID == id {
			domains = append(domains, b.Domain)
			delete(f.bindings, key)
		}
	}
	sort.Strings(domains)
	return domains, nil
}

func (f *fakeStore) CreateBinding(_ context.Context, binding *model.OwnerBinding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bindings {
		if b.Domain == binding.Domain {
			return repository.ErrDomainExists
		}
	}
	copied := *binding
	f.bindings[binding.ID] = &copied
	return nil
}

func (f *fakeStore) ListBindings(_ context.Context) ([]*model.OwnerBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.OwnerBinding, 0, len(f.bindings))
	for _, b := range f.bindings {
		copied := *b
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (f *fakeStore) DeleteBinding(_ context.Context, id string) (*model.OwnerBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bindings[id]
	if !ok {
		return nil, repository.ErrBindingNotFound
	}
	delete(f.bindings, id)
	return b, nil
}

func (f *fakeStore) addUser(t *testing.T, hasher *auth.PasswordHasher, id, email, password string) *model.User {
	t.Helper()

	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := &model.User{ID: id, Email: email, PasswordHash: hash, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	f.mu.Lock()
	f.users[id] = user
	f.mu.Unlock()
	return user
}

// countingHasher counts calls on top of a real hasher.
type countingHasher struct {
	*auth.PasswordHasher
	mu       sync.Mutex
	hashes   int
	compares int
}

func (h *countingHasher) Compare(plaintext, hash string) bool {
	h.mu.Lock()
	h.compares++
	h.mu.Unlock()
	return h.PasswordHasher.Compare(plaintext, hash)
}

func (h *countingHasher) compareCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compares
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	h.mu.Lock()
	h.hashes++
	h.mu.Unlock()
	return h.PasswordHasher.Hash(plaintext)
}

func (h *countingHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashes
}

type recordedAttempts struct {
	mu       sync.Mutex
	attempts []audit.AttemptPayload
}

func (r *recordedAttempts) PublishAsync(a audit.AttemptPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recordedAttempts) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.attempts))
	for i, a := range r.attempts {
		out[i] = a.Reason
	}
	return out
}

type fakeRevoker struct {
	mu      sync.Mutex
	err     error
	revoked map[string]time.Time
}

func (f *fakeRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.revoked == nil {
		f.revoked = make(map[string]time.Time)
	}
	f.revoked[jti] = expiresAt
	return nil
}

type fakeInvalidator struct {
	mu      sync.Mutex
	err     error
	deleted []string
}

func (f *fakeInvalidator) DeleteOwner(_ context.Context, domains ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, domains...)
	return f.err
}

var errStoreDown = errors.New("dial tcp: connection refused")
