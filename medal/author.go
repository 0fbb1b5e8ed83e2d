package medal

import (
	"strings"

	"medal-notifier/pkg/notifier"
)

// creditsPrefix is the fixed lead-in Medal puts on credited-author text,
// e.g. `Credits to SomePlayer (https://medal.tv/users/123)`.
const creditsPrefix = "Credits to "

// AuthorName derives a displayable author name for a clip.
//
// The chain is: parsed credits text, then the poster's display name, then the
// poster's username, then a synthetic label built from the creator ID. It is
// total: name derivation can never block delivery of the clip itself.
func AuthorName(clip *notifier.Clip) string {
	if name := parseCredits(clip.Credits); name != "" {
		return name
	}
	if clip.PosterName != "" {
		return clip.PosterName
	}
	if clip.PosterUser != "" {
		return clip.PosterUser
	}
	return "creator " + clip.CreatorID
}

// parseCredits extracts the display name from a credits line.
// Returns "" when the text doesn't match the expected shape.
func parseCredits(credits string) string {
	s := strings.TrimSpace(credits)
	if !strings.HasPrefix(s, creditsPrefix) {
		return ""
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, creditsPrefix))
	// Drop the optional trailing parenthetical (profile link).
	if i := strings.Index(s, "("); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}
