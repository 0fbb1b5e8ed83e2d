// Package poll runs the poll-detect-dedup-notify pass across all tenants.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"medal-notifier/medal"
	"medal-notifier/metrics"
	"medal-notifier/pkg/notifier"
)

// FetchFunc returns the latest clip for a creator, or nil when nothing is
// available this tick (no clips, or a transient upstream failure).
type FetchFunc func(ctx context.Context, creatorID string) *notifier.Clip

// Fetcher is the upstream clip client.
type Fetcher interface {
	LatestClip(ctx context.Context, apiKey, creatorID string) *notifier.Clip
}

// Store is the tracking state needed by a poll pass.
type Store interface {
	Credential(ctx context.Context) (string, error)
	ListTenants(ctx context.Context) ([]*notifier.TenantSnapshot, error)
	RecordSeen(ctx context.Context, tenantID, creatorID, contentID string) error
}

// Announcer delivers one formatted announcement to a destination channel.
type Announcer interface {
	Announce(ctx context.Context, destination string, clip *notifier.Clip, author string) error
}

// Detection is one creator found to have new content this tick.
type Detection struct {
	Clip      *notifier.Clip
	CreatorID string
}

// Evaluate decides which of a tenant's tracked creators have new content.
//
// A nil fetch result skips the creator with no state change. A content ID equal
// to the stored baseline means nothing new. A differing ID — including the
// empty baseline of a never-announced creator — is emitted as new. Running
// Evaluate twice against the same baseline yields the same detections.
func Evaluate(ctx context.Context, snap *notifier.TenantSnapshot, fetch FetchFunc) []Detection {
	ids := make([]string, 0, len(snap.Creators))
	for id := range snap.Creators {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var detections []Detection
	for _, id := range ids {
		if ctx.Err() != nil {
			return detections
		}
		clip := fetch(ctx, id)
		if clip == nil {
			continue
		}
		if clip.ContentID == snap.Creators[id] {
			continue
		}
		detections = append(detections, Detection{CreatorID: id, Clip: clip})
	}
	return detections
}

// Monitor drives one full poll pass over all tenants.
type Monitor struct {
	fetcher   Fetcher
	store     Store
	announcer Announcer
	logger    *slog.Logger
}

// New creates a new poll monitor.
func New(fetcher Fetcher, store Store, announcer Announcer, logger *slog.Logger) *Monitor {
	return &Monitor{
		fetcher:   fetcher,
		store:     store,
		announcer: announcer,
		logger:    logger,
	}
}

// CheckAll runs one poll pass: fetch the shared credential, snapshot all
// tenants, evaluate each, announce every detection, and record state only
// after a successful announcement.
//
// The unit of failure is one (tenant, creator) pair: a fetch or dispatch
// failure there is logged and counted, and the pass moves on.
func (m *Monitor) CheckAll(ctx context.Context) error {
	apiKey, err := m.store.Credential(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("load credential: %w", err)
	}
	if apiKey == "" {
		// Expected during initial setup: polling is suspended, not failing.
		m.logger.Info("No API credential configured, skipping poll pass")
		metrics.TicksTotal.WithLabelValues("no_credential").Inc()
		return nil
	}

	snaps, err := m.store.ListTenants(ctx)
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list tenants: %w", err)
	}

	m.logger.Info("Starting poll pass", "tenants", len(snaps))

	// One upstream call per creator per pass, even when several tenants track
	// the same creator. A nil entry is a remembered miss, not an absent key.
	cache := make(map[string]*notifier.Clip)
	fetch := func(ctx context.Context, creatorID string) *notifier.Clip {
		if clip, ok := cache[creatorID]; ok {
			return clip
		}
		clip := m.fetcher.LatestClip(ctx, apiKey, creatorID)
		cache[creatorID] = clip
		return clip
	}

	var announced, failed, skippedTenants int
	for _, snap := range snaps {
		if ctx.Err() != nil {
			m.logger.Info("Context cancelled, stopping poll pass", "error", ctx.Err())
			metrics.TicksTotal.WithLabelValues("error").Inc()
			return ctx.Err()
		}

		if snap.Tenant.DestinationChannel == "" || len(snap.Creators) == 0 {
			skippedTenants++
			m.logger.Debug("Skipping unconfigured tenant",
				"tenant_id", snap.Tenant.ID,
				"has_destination", snap.Tenant.DestinationChannel != "",
				"tracked_creators", len(snap.Creators))
			continue
		}

		for _, d := range Evaluate(ctx, snap, fetch) {
			metrics.NewClipsTotal.Inc()
			author := medal.AuthorName(d.Clip)

			if err := m.announcer.Announce(ctx, snap.Tenant.DestinationChannel, d.Clip, author); err != nil {
				// Do not advance the baseline: the same clip is retried next tick.
				failed++
				metrics.AnnounceTotal.WithLabelValues("error").Inc()
				m.logger.Warn("Announcement failed, will retry next pass",
					"tenant_id", snap.Tenant.ID,
					"creator_id", d.CreatorID,
					"content_id", d.Clip.ContentID,
					"error", err)
				continue
			}
			metrics.AnnounceTotal.WithLabelValues("ok").Inc()
			announced++

			if err := m.store.RecordSeen(ctx, snap.Tenant.ID, d.CreatorID, d.Clip.ContentID); err != nil {
				metrics.StoreWriteErrors.Inc()
				m.logger.Error("Failed to record announced content",
					"tenant_id", snap.Tenant.ID,
					"creator_id", d.CreatorID,
					"content_id", d.Clip.ContentID,
					"error", err)
			}
		}
	}

	m.logger.Info("Poll pass completed",
		"tenants", len(snaps),
		"skipped_tenants", skippedTenants,
		"announced", announced,
		"failed", failed)
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	return nil
}
