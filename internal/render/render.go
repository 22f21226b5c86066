// Package render personalizes campaign templates for a single recipient.
package render

import (
	"regexp"
	"strings"
)

// Placeholder is the token replaced by the recipient's first name.
const Placeholder = "{prénom}"

var placeholderPattern = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(Placeholder))

const (
	ChatMediaLabel  = "📎 "
	EmailMediaLabel = "Media: "
)

// Renderer is pure: the same inputs always produce the same message.
type Renderer struct {
	// MediaLabel prefixes the media URL appended after the body.
	MediaLabel string
}

func New(mediaLabel string) Renderer {
	return Renderer{MediaLabel: mediaLabel}
}

// Render substitutes the first name of recipientName for every placeholder occurrence.
// An empty name leaves the placeholder untouched. A non-empty mediaURL is appended on
// its own paragraph.
func (r Renderer) Render(template string, recipientName string, mediaURL string) string {
	message := template
	if firstName := FirstName(recipientName); firstName != "" {
		message = placeholderPattern.ReplaceAllLiteralString(message, firstName)
	}

	if media := strings.TrimSpace(mediaURL); media != "" {
		message = message + "\n\n" + r.MediaLabel + media
	}

	return message
}

// FirstName returns the first whitespace-delimited token of name.
func FirstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
