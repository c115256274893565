package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dgnsrekt/telepresence/internal/capture"
)

// Report describes a sharing session at the moment it changed state.
type Report struct {
	SpaceID     string
	Participant string
	Status      capture.Status
	Uptime      time.Duration
}

// FormatStartedMessage creates a sharing-started notification body.
func FormatStartedMessage(r Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Space: %s\n", r.SpaceID))
	sb.WriteString(fmt.Sprintf("Participant: %s\n", r.Participant))
	sb.WriteString(fmt.Sprintf("Stream: %s", r.Status.StreamID))

	return sb.String()
}

// FormatFailureMessage creates a failure notification body.
func FormatFailureMessage(r Report) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Space: %s\n", r.SpaceID))
	sb.WriteString(fmt.Sprintf("Participant: %s\n", r.Participant))
	sb.WriteString(fmt.Sprintf("Published: %d\n", r.Status.Published))
	sb.WriteString(fmt.Sprintf("Skipped: %d\n", r.Status.Skipped))
	sb.WriteString(fmt.Sprintf("Uptime: %s", r.Uptime.Round(time.Second)))

	if !r.Status.LastPublishedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("\nLast frame: %s", r.Status.LastPublishedAt.UTC().Format(time.RFC3339)))
	}

	sb.WriteString(fmt.Sprintf("\n\nError: %s", r.Status.Message))

	return sb.String()
}
