package domain

import (
	"fmt"
	"strings"
)

// Recipient is one addressee of a bulk send. Name is optional.
type Recipient struct {
	Address string
	Name    string
}

// Label is the progress label for the recipient: the name when present, else the address.
func (r Recipient) Label() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return strings.TrimSpace(r.Address)
}

// Campaign is the template and optional media shared by all recipients of a run.
type Campaign struct {
	Body     string
	MediaURL string
	Subject  string
}

func (c Campaign) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return fmt.Errorf("%w: campaign body is required", ErrValidation)
	}
	return nil
}
