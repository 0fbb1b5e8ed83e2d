// Package storage handles persistence of tenant tracking state.
//
// Layout (same keys on both backends):
//
//	tenants/<tenantID>.json         tenant record (destination channel)
//	seen/<tenantID>/<creatorID>.json per-creator tracking state
//	credential.json                  process-wide Medal API key
//
// The last-seen marker lives in its own per-creator object so RecordSeen is a
// single-key write: it can never clobber sibling creators' state or a concurrent
// admin change to the tenant record.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medal-notifier/pkg/notifier"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry-go"
	"google.golang.org/api/iterator"
)

// Administrative input errors, surfaced to the command surface.
var (
	ErrAlreadyTracked = errors.New("creator already tracked")
	ErrNotTracked     = errors.New("creator not tracked")
)

var errNotFound = errors.New("storage: object doesn't exist")

const credentialKey = "credential.json"

// Store persists tenants, per-creator tracking state, and the shared credential.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. With a non-empty localPath the store works
// against the local filesystem; otherwise it uses the GCS bucket.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// IsNotFound checks if an error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// validID rejects identifiers that could escape the key layout.
func validID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\")
}

func tenantKey(tenantID string) string {
	return fmt.Sprintf("tenants/%s.json", tenantID)
}

func seenKey(tenantID, creatorID string) string {
	return fmt.Sprintf("seen/%s/%s.json", tenantID, creatorID)
}

// credentialRecord is the persisted shape of the process-wide API key.
type credentialRecord struct {
	UpdatedAt time.Time `json:"updated_at"`
	APIKey    string    `json:"api_key"`
}

// SetDestination sets the announcement channel for a tenant, creating the tenant
// record if this is its first configuration write. Idempotent.
func (s *Store) SetDestination(ctx context.Context, tenantID, channelID string) error {
	if !validID(tenantID) {
		return errors.New("invalid tenant id")
	}

	tenant, err := s.tenant(ctx, tenantID)
	if err != nil {
		if !IsNotFound(err) {
			return fmt.Errorf("load tenant: %w", err)
		}
		tenant = &notifier.Tenant{ID: tenantID, CreatedAt: time.Now().UTC()}
	}
	tenant.DestinationChannel = channelID

	data, err := json.MarshalIndent(tenant, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tenant: %w", err)
	}
	if err := s.write(ctx, tenantKey(tenantID), data); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}

	s.logger.Info("Destination channel set", "tenant_id", tenantID, "channel_id", channelID)
	return nil
}

// AddCreator starts tracking a creator for a tenant with an empty baseline.
// Returns ErrAlreadyTracked if the creator is already tracked.
func (s *Store) AddCreator(ctx context.Context, tenantID, creatorID string) error {
	if !validID(tenantID) || !validID(creatorID) {
		return errors.New("invalid identifier")
	}

	key := seenKey(tenantID, creatorID)
	if _, err := s.read(ctx, key); err == nil {
		return ErrAlreadyTracked
	} else if !IsNotFound(err) {
		return fmt.Errorf("check tracking state: %w", err)
	}

	// First configuration write creates the tenant record implicitly.
	if _, err := s.tenant(ctx, tenantID); err != nil {
		if !IsNotFound(err) {
			return fmt.Errorf("load tenant: %w", err)
		}
		tenant := &notifier.Tenant{ID: tenantID, CreatedAt: time.Now().UTC()}
		data, err := json.MarshalIndent(tenant, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal tenant: %w", err)
		}
		if err := s.write(ctx, tenantKey(tenantID), data); err != nil {
			return fmt.Errorf("save tenant: %w", err)
		}
	}

	state := &notifier.CreatorState{
		TenantID:  tenantID,
		CreatorID: creatorID,
		AddedAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracking state: %w", err)
	}
	if err := s.write(ctx, key, data); err != nil {
		return fmt.Errorf("save tracking state: %w", err)
	}

	s.logger.Info("Creator tracked", "tenant_id", tenantID, "creator_id", creatorID)
	return nil
}

// RemoveCreator stops tracking a creator. Returns ErrNotTracked if absent.
func (s *Store) RemoveCreator(ctx context.Context, tenantID, creatorID string) error {
	if !validID(tenantID) || !validID(creatorID) {
		return errors.New("invalid identifier")
	}

	key := seenKey(tenantID, creatorID)
	if _, err := s.read(ctx, key); err != nil {
		if IsNotFound(err) {
			return ErrNotTracked
		}
		return fmt.Errorf("check tracking state: %w", err)
	}

	if err := s.delete(ctx, key); err != nil {
		return fmt.Errorf("delete tracking state: %w", err)
	}

	s.logger.Info("Creator untracked", "tenant_id", tenantID, "creator_id", creatorID)
	return nil
}

// RecordSeen records that contentID was announced for (tenantID, creatorID).
// This is a scoped single-key write; it never touches the tenant record or any
// sibling creator's state. Returns ErrNotTracked if the creator was untracked
// between the snapshot and the announcement, so a stale pass cannot resurrect it.
func (s *Store) RecordSeen(ctx context.Context, tenantID, creatorID, contentID string) error {
	if !validID(tenantID) || !validID(creatorID) {
		return errors.New("invalid identifier")
	}

	key := seenKey(tenantID, creatorID)
	data, err := s.read(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return ErrNotTracked
		}
		return fmt.Errorf("load tracking state: %w", err)
	}

	var state notifier.CreatorState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal tracking state: %w", err)
	}
	state.LastSeenContentID = contentID
	state.NotifiedAt = time.Now().UTC()

	out, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracking state: %w", err)
	}
	if err := s.write(ctx, key, out); err != nil {
		return fmt.Errorf("save tracking state: %w", err)
	}

	s.logger.Info("Last seen content recorded",
		"tenant_id", tenantID,
		"creator_id", creatorID,
		"content_id", contentID)
	return nil
}

// Snapshot returns a point-in-time view of one tenant. Returns errNotFound via
// IsNotFound when the tenant has no record.
func (s *Store) Snapshot(ctx context.Context, tenantID string) (*notifier.TenantSnapshot, error) {
	if !validID(tenantID) {
		return nil, errors.New("invalid tenant id")
	}

	tenant, err := s.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	keys, err := s.list(ctx, fmt.Sprintf("seen/%s/", tenantID))
	if err != nil {
		return nil, fmt.Errorf("list tracked creators: %w", err)
	}

	snap := &notifier.TenantSnapshot{
		Tenant:   *tenant,
		Creators: make(map[string]string, len(keys)),
	}
	for _, key := range keys {
		data, err := s.read(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load tracking state", "key", key, "error", err)
			continue
		}
		var state notifier.CreatorState
		if err := json.Unmarshal(data, &state); err != nil {
			s.logger.Warn("Failed to unmarshal tracking state", "key", key, "error", err)
			continue
		}
		if state.CreatorID == "" {
			continue
		}
		snap.Creators[state.CreatorID] = state.LastSeenContentID
	}
	return snap, nil
}

// ListTenants returns a snapshot of every tenant for one poll pass.
func (s *Store) ListTenants(ctx context.Context) ([]*notifier.TenantSnapshot, error) {
	keys, err := s.list(ctx, "tenants/")
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	var snaps []*notifier.TenantSnapshot
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, "tenants/"), ".json")
		snap, err := s.Snapshot(ctx, name)
		if err != nil {
			s.logger.Warn("Failed to snapshot tenant", "tenant_id", name, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Credential returns the process-wide Medal API key, or "" when none is set.
// An absent credential is an expected state, not an error.
func (s *Store) Credential(ctx context.Context) (string, error) {
	data, err := s.read(ctx, credentialKey)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("load credential: %w", err)
	}
	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("unmarshal credential: %w", err)
	}
	return rec.APIKey, nil
}

// SetCredential stores the process-wide Medal API key.
func (s *Store) SetCredential(ctx context.Context, apiKey string) error {
	rec := credentialRecord{APIKey: apiKey, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}
	if err := s.write(ctx, credentialKey, data); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	s.logger.Info("API credential updated")
	return nil
}

func (s *Store) tenant(ctx context.Context, tenantID string) (*notifier.Tenant, error) {
	data, err := s.read(ctx, tenantKey(tenantID))
	if err != nil {
		return nil, err
	}
	var tenant notifier.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		return nil, fmt.Errorf("unmarshal tenant: %w", err)
	}
	return &tenant, nil
}

// ---- backend primitives ----

func (s *Store) localFile(key string) string {
	return filepath.Join(s.localPath, filepath.FromSlash(key))
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(s.localFile(key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotFound
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errNotFound)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := s.localFile(key)
		if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
			return fmt.Errorf("create local storage directory: %w", err)
		}
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	// Local filesystem storage
	if s.localPath != "" {
		if err := os.Remove(s.localFile(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				// Deletion is idempotent; not-found is done.
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

// list returns the keys under a slash-terminated prefix.
func (s *Store) list(ctx context.Context, prefix string) ([]string, error) {
	// Local filesystem storage
	if s.localPath != "" {
		dir := filepath.Join(s.localPath, filepath.FromSlash(prefix))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		var keys []string
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, prefix+entry.Name())
		}
		return keys, nil
	}

	// Cloud Storage
	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
