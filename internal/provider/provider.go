package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

// minAddressLength is the shortest normalized destination considered plausible.
const minAddressLength = 10

// Sender is the single-recipient delivery port. Implementations make at most one network
// call per Send and never retry.
type Sender[C credentials.Credentials] interface {
	Send(ctx context.Context, creds C, recipient domain.Recipient, msg Message) (*Response, error)
}

// Message is the rendered content delivered to one recipient.
type Message struct {
	Text     string
	MediaURL string
	Subject  string
}

// Response stores provider call metadata for a successful send.
type Response struct {
	StatusCode int
	MessageID  string
}

func checkAddress(address string) error {
	if len([]rune(address)) < minAddressLength {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	return nil
}

func checkEmailAddress(address string) error {
	if err := checkAddress(address); err != nil {
		return err
	}
	at := strings.LastIndex(address, "@")
	if at < 1 || at == len(address)-1 {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAddress, address)
	}
	return nil
}
