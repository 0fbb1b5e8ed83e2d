package telegram

import (
	"fmt"

	"medal-notifier/pkg/notifier"
)

// FormatAnnouncement renders the fixed announcement template for one clip.
func FormatAnnouncement(clip *notifier.Clip, author string) string {
	return fmt.Sprintf("🎬 New clip from %s!\n%s", author, clip.URL)
}
