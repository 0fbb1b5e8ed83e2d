package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, "", t.TempDir(), logger)
}

func TestAddCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}

	// Tracking the same creator again is an administrative error.
	if err := store.AddCreator(ctx, "tenant1", "42"); !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("AddCreator() second call error = %v, want ErrAlreadyTracked", err)
	}

	// The tenant record is created implicitly with an empty baseline.
	snap, err := store.Snapshot(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	lastSeen, ok := snap.Creators["42"]
	if !ok {
		t.Fatal("creator 42 missing from snapshot")
	}
	if lastSeen != "" {
		t.Errorf("new creator baseline = %q, want empty", lastSeen)
	}
	if snap.Tenant.ID != "tenant1" {
		t.Errorf("tenant ID = %q, want tenant1", snap.Tenant.ID)
	}
}

func TestRemoveCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RemoveCreator(ctx, "tenant1", "42"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("RemoveCreator() on untracked creator error = %v, want ErrNotTracked", err)
	}

	if err := store.AddCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}
	if err := store.RemoveCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("RemoveCreator() error = %v", err)
	}

	snap, err := store.Snapshot(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if _, ok := snap.Creators["42"]; ok {
		t.Error("creator 42 still present after removal")
	}
}

func TestSetDestination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetDestination(ctx, "tenant1", "@clips"); err != nil {
		t.Fatalf("SetDestination() error = %v", err)
	}
	// Idempotent, and updatable.
	if err := store.SetDestination(ctx, "tenant1", "@clips"); err != nil {
		t.Fatalf("SetDestination() repeat error = %v", err)
	}
	if err := store.SetDestination(ctx, "tenant1", "-10012345"); err != nil {
		t.Fatalf("SetDestination() update error = %v", err)
	}

	snap, err := store.Snapshot(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Tenant.DestinationChannel != "-10012345" {
		t.Errorf("DestinationChannel = %q, want -10012345", snap.Tenant.DestinationChannel)
	}
}

func TestSetDestinationPreservedByAddCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetDestination(ctx, "tenant1", "@clips"); err != nil {
		t.Fatalf("SetDestination() error = %v", err)
	}
	if err := store.AddCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}

	snap, err := store.Snapshot(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Tenant.DestinationChannel != "@clips" {
		t.Errorf("DestinationChannel = %q, want @clips", snap.Tenant.DestinationChannel)
	}
}

func TestRecordSeen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}
	if err := store.AddCreator(ctx, "tenant1", "43"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}

	if err := store.RecordSeen(ctx, "tenant1", "42", "clip-abc"); err != nil {
		t.Fatalf("RecordSeen() error = %v", err)
	}

	snap, err := store.Snapshot(ctx, "tenant1")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if got := snap.Creators["42"]; got != "clip-abc" {
		t.Errorf("baseline for 42 = %q, want clip-abc", got)
	}
	// The sibling creator's state is untouched by the scoped write.
	if got := snap.Creators["43"]; got != "" {
		t.Errorf("baseline for 43 = %q, want empty", got)
	}
}

func TestRecordSeenUntrackedCreator(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordSeen(ctx, "tenant1", "42", "clip-abc"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("RecordSeen() error = %v, want ErrNotTracked", err)
	}
}

func TestSnapshotUnknownTenant(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Snapshot(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Fatalf("Snapshot() error = %v, want not-found", err)
	}
}

func TestListTenants(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snaps, err := store.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants() on empty store error = %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("expected no tenants, got %d", len(snaps))
	}

	if err := store.AddCreator(ctx, "tenant1", "42"); err != nil {
		t.Fatalf("AddCreator() error = %v", err)
	}
	if err := store.SetDestination(ctx, "tenant1", "@clips"); err != nil {
		t.Fatalf("SetDestination() error = %v", err)
	}
	if err := store.SetDestination(ctx, "tenant2", "@other"); err != nil {
		t.Fatalf("SetDestination() error = %v", err)
	}

	snaps, err = store.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 tenants, got %d", len(snaps))
	}

	byID := make(map[string]int)
	for _, snap := range snaps {
		byID[snap.Tenant.ID] = len(snap.Creators)
	}
	if byID["tenant1"] != 1 {
		t.Errorf("tenant1 creators = %d, want 1", byID["tenant1"])
	}
	if byID["tenant2"] != 0 {
		t.Errorf("tenant2 creators = %d, want 0", byID["tenant2"])
	}
}

func TestCredential(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Absent credential is an expected state, not an error.
	key, err := store.Credential(ctx)
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if key != "" {
		t.Fatalf("Credential() = %q, want empty", key)
	}

	if err := store.SetCredential(ctx, "medal-key-123"); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	key, err = store.Credential(ctx)
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if key != "medal-key-123" {
		t.Errorf("Credential() = %q, want medal-key-123", key)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"42", true},
		{"tenant-abc_1", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{string(make([]byte, 129)), false},
	}

	for _, tt := range tests {
		if got := validID(tt.id); got != tt.want {
			t.Errorf("validID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestInvalidIdentifiersRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddCreator(ctx, "../escape", "42"); err == nil {
		t.Error("AddCreator() accepted a path-traversal tenant id")
	}
	if err := store.AddCreator(ctx, "tenant1", "a/b"); err == nil {
		t.Error("AddCreator() accepted a creator id with a separator")
	}
	if err := store.SetDestination(ctx, "", "@clips"); err == nil {
		t.Error("SetDestination() accepted an empty tenant id")
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SetDestination(ctx, "tenant1", "@clips"); err != nil {
		t.Fatalf("SetDestination() error = %v", err)
	}
	// A stray non-JSON file in the tenants directory must not surface as a tenant.
	stray := filepath.Join(store.localPath, "tenants", "README.txt")
	if err := os.WriteFile(stray, []byte("not a tenant"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	snaps, err := store.ListTenants(ctx)
	if err != nil {
		t.Fatalf("ListTenants() error = %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 tenant, got %d", len(snaps))
	}
}
