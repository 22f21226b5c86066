// Package credentials holds provider credential bundles and the cached accessor the
// dispatch engine reads them through.
package credentials

import "strings"

const maskedValue = "********"

// Credentials is a provider credential bundle stored as flat string fields.
type Credentials interface {
	IsComplete() bool
	Fields() map[string]string
	// MaskedFields is Fields with secrets redacted, safe to return from the API.
	MaskedFields() map[string]string
}

// TwilioCredentials configures the chat/SMS provider.
type TwilioCredentials struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

func TwilioFromFields(fields map[string]string) TwilioCredentials {
	return TwilioCredentials{
		AccountSID: fields["account_sid"],
		AuthToken:  fields["auth_token"],
		FromNumber: fields["from_number"],
	}
}

func (c TwilioCredentials) Fields() map[string]string {
	return map[string]string{
		"account_sid": c.AccountSID,
		"auth_token":  c.AuthToken,
		"from_number": c.FromNumber,
	}
}

func (c TwilioCredentials) IsComplete() bool {
	return allPresent(c.AccountSID, c.AuthToken, c.FromNumber)
}

func (c TwilioCredentials) Masked() TwilioCredentials {
	c.AuthToken = mask(c.AuthToken)
	return c
}

func (c TwilioCredentials) MaskedFields() map[string]string {
	return c.Masked().Fields()
}

// EmailJSCredentials configures the template-based email provider.
type EmailJSCredentials struct {
	ServiceID  string
	TemplateID string
	PublicKey  string
	PrivateKey string
	FromName   string
	ReplyTo    string
}

func EmailJSFromFields(fields map[string]string) EmailJSCredentials {
	return EmailJSCredentials{
		ServiceID:  fields["service_id"],
		TemplateID: fields["template_id"],
		PublicKey:  fields["public_key"],
		PrivateKey: fields["private_key"],
		FromName:   fields["from_name"],
		ReplyTo:    fields["reply_to"],
	}
}

func (c EmailJSCredentials) Fields() map[string]string {
	return map[string]string{
		"service_id":  c.ServiceID,
		"template_id": c.TemplateID,
		"public_key":  c.PublicKey,
		"private_key": c.PrivateKey,
		"from_name":   c.FromName,
		"reply_to":    c.ReplyTo,
	}
}

func (c EmailJSCredentials) IsComplete() bool {
	return allPresent(c.ServiceID, c.TemplateID, c.PublicKey)
}

func (c EmailJSCredentials) Masked() EmailJSCredentials {
	c.PrivateKey = mask(c.PrivateKey)
	return c
}

func (c EmailJSCredentials) MaskedFields() map[string]string {
	return c.Masked().Fields()
}

// SESCredentials configures the AWS SES email provider.
type SESCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	FromAddress     string
	FromName        string
	ReplyTo         string
}

func SESFromFields(fields map[string]string) SESCredentials {
	return SESCredentials{
		AccessKeyID:     fields["access_key_id"],
		SecretAccessKey: fields["secret_access_key"],
		Region:          fields["region"],
		FromAddress:     fields["from_address"],
		FromName:        fields["from_name"],
		ReplyTo:         fields["reply_to"],
	}
}

func (c SESCredentials) Fields() map[string]string {
	return map[string]string{
		"access_key_id":     c.AccessKeyID,
		"secret_access_key": c.SecretAccessKey,
		"region":            c.Region,
		"from_address":      c.FromAddress,
		"from_name":         c.FromName,
		"reply_to":          c.ReplyTo,
	}
}

func (c SESCredentials) IsComplete() bool {
	return allPresent(c.AccessKeyID, c.SecretAccessKey, c.Region, c.FromAddress)
}

func (c SESCredentials) Masked() SESCredentials {
	c.SecretAccessKey = mask(c.SecretAccessKey)
	return c
}

func (c SESCredentials) MaskedFields() map[string]string {
	return c.Masked().Fields()
}

func allPresent(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return maskedValue
}
