package domain

import (
	"fmt"
	"strings"
)

// Provider identifies the external messaging API a run is dispatched through.
type Provider string

const (
	ProviderTwilio  Provider = "TWILIO"
	ProviderEmailJS Provider = "EMAILJS"
	ProviderSES     Provider = "SES"
)

func (p Provider) String() string { return string(p) }

func (p Provider) IsValid() bool {
	switch p {
	case ProviderTwilio, ProviderEmailJS, ProviderSES:
		return true
	}
	return false
}

// IsEmail reports whether the provider delivers to email addresses rather than phone numbers.
func (p Provider) IsEmail() bool {
	return p == ProviderEmailJS || p == ProviderSES
}

func ParseProviderFromString(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid provider %q", ErrValidation, s)
	}
	return p, nil
}
