package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

const (
	DefaultEmailJSBaseURL = "https://api.emailjs.com"
	DefaultSubject        = "You have a new message"
)

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

var _ Sender[credentials.EmailJSCredentials] = (*EmailJSSender)(nil)

// EmailJSSender delivers emails through an EmailJS template. The template receives the
// rendered message and recipient fields as template parameters.
type EmailJSSender struct {
	client  *resty.Client
	baseURL string
}

func NewEmailJSSender(baseURL string, timeout time.Duration) (*EmailJSSender, error) {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewEmailJSSenderWithClient(baseURL, client)
}

func NewEmailJSSenderWithClient(baseURL string, client *resty.Client) (*EmailJSSender, error) {
	base, err := normalizeBaseURL(baseURL, DefaultEmailJSBaseURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetRetryCount(0)

	return &EmailJSSender{client: client, baseURL: base}, nil
}

func (s *EmailJSSender) Send(
	ctx context.Context,
	creds credentials.EmailJSCredentials,
	recipient domain.Recipient,
	msg Message,
) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if !creds.IsComplete() {
		return nil, domain.ErrNotConfigured
	}

	to := strings.TrimSpace(recipient.Address)
	if err := checkEmailAddress(to); err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	reqBody := emailJSRequest{
		ServiceID:   strings.TrimSpace(creds.ServiceID),
		TemplateID:  strings.TrimSpace(creds.TemplateID),
		UserID:      strings.TrimSpace(creds.PublicKey),
		AccessToken: strings.TrimSpace(creds.PrivateKey),
		TemplateParams: map[string]string{
			"to_email":  to,
			"to_name":   strings.TrimSpace(recipient.Name),
			"subject":   subject,
			"message":   msg.Text,
			"from_name": strings.TrimSpace(creds.FromName),
			"reply_to":  strings.TrimSpace(creds.ReplyTo),
		},
	}
	if media := strings.TrimSpace(msg.MediaURL); media != "" {
		reqBody.TemplateParams["media_url"] = media
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(s.baseURL + "/api/v1.0/email/send")
	if err != nil {
		return nil, &ProviderError{Cause: unwrapURLError(err)}
	}
	if response == nil {
		return nil, &ProviderError{Message: "provider returned empty response"}
	}

	statusCode := response.StatusCode()
	if isSuccessStatus(statusCode) {
		return &Response{StatusCode: statusCode}, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    strings.TrimSpace(response.String()),
	}
}
