// Package notifier contains the core domain types for the Medal clip notification service.
package notifier

import "time"

// Clip represents one fetched unit of clip metadata. It is never persisted;
// only ContentID survives into the tracking state after a successful announcement.
type Clip struct {
	ContentID  string // Opaque identifier, unique per creator over time
	URL        string // Direct playable link
	Title      string // Clip title, may be empty
	Credits    string // Raw credited-author text from the API, may be empty
	PosterName string // Display name of the poster, may be empty
	PosterUser string // Username of the poster, may be empty
	CreatorID  string // Creator this clip was fetched for
}

// CreatorState is the persisted per-(tenant, creator) tracking record.
type CreatorState struct {
	AddedAt           time.Time `json:"added_at"`              // When the creator was tracked
	NotifiedAt        time.Time `json:"notified_at,omitempty"` // When the last announcement was recorded
	LastSeenContentID string    `json:"last_seen_content_id"`  // Empty until the first announcement
	CreatorID         string    `json:"creator_id"`            // Medal creator identifier
	TenantID          string    `json:"tenant_id"`             // Owning tenant
}

// Tenant is one isolated notification scope, typically one chat.
type Tenant struct {
	CreatedAt          time.Time `json:"created_at"`
	ID                 string    `json:"tenant_id"`
	DestinationChannel string    `json:"destination_channel,omitempty"` // Chat the announcements go to; empty disables the tenant
}

// TenantSnapshot is a point-in-time view of one tenant used for a single poll pass.
// Creators maps creator ID to the last announced content ID (empty for never-announced).
type TenantSnapshot struct {
	Creators map[string]string
	Tenant   Tenant
}
