// Package phone turns free-form phone input into the E.164 form providers expect.
package phone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "CH"

// Unprefixed numbers this long are assumed to already carry a country code.
const internationalMinDigits = 10

// Normalizer converts raw phone input into E.164. Numbers without a country code are
// assigned the calling code of the configured region.
type Normalizer struct {
	region      string
	countryCode string
}

func NewNormalizer(region string) (*Normalizer, error) {
	normalized := strings.ToUpper(strings.TrimSpace(region))
	if normalized == "" {
		normalized = DefaultRegion
	}

	code := phonenumbers.GetCountryCodeForRegion(normalized)
	if code == 0 {
		return nil, fmt.Errorf("%w: unknown phone region %q", domain.ErrValidation, region)
	}

	return &Normalizer{
		region:      normalized,
		countryCode: strconv.Itoa(code),
	}, nil
}

func (n *Normalizer) Region() string { return n.region }

func (n *Normalizer) CountryCode() string { return n.countryCode }

// Normalize never fails; implausible input is caught by the caller's length check.
//
//	0791234567   -> +41791234567 (trunk zero replaced by the region code)
//	0041791234567 -> +41791234567
//	+14155551234 -> +14155551234
//	4155551234   -> +4155551234
//	791234567    -> +41791234567
func (n *Normalizer) Normalize(raw string) string {
	digits, hasPlus := stripFormatting(raw)
	if digits == "" {
		return ""
	}

	switch {
	case hasPlus:
		return "+" + digits
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:]
	case strings.HasPrefix(digits, "0"):
		return "+" + n.countryCode + digits[1:]
	case len(digits) >= internationalMinDigits:
		return "+" + digits
	default:
		return "+" + n.countryCode + digits
	}
}

func stripFormatting(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String(), hasPlus
}
