package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
	"github.com/kursadbilgin/campaign-dispatcher/internal/phone"
)

const (
	DefaultTwilioBaseURL       = "https://api.twilio.com"
	DefaultTwilioAddressScheme = "whatsapp"
	defaultProviderTimeout     = 10 * time.Second
)

type twilioMessage struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

var _ Sender[credentials.TwilioCredentials] = (*TwilioSender)(nil)

// TwilioSender delivers chat/SMS messages through the Twilio Messages API.
type TwilioSender struct {
	client     *resty.Client
	baseURL    string
	scheme     string
	normalizer *phone.Normalizer
}

// NewTwilioSender builds a sender. scheme is the address prefix Twilio routes on
// ("whatsapp" for WhatsApp, empty for plain SMS).
func NewTwilioSender(baseURL string, scheme string, normalizer *phone.Normalizer, timeout time.Duration) (*TwilioSender, error) {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewTwilioSenderWithClient(baseURL, scheme, normalizer, client)
}

func NewTwilioSenderWithClient(baseURL string, scheme string, normalizer *phone.Normalizer, client *resty.Client) (*TwilioSender, error) {
	base, err := normalizeBaseURL(baseURL, DefaultTwilioBaseURL)
	if err != nil {
		return nil, err
	}
	if normalizer == nil {
		return nil, fmt.Errorf("phone normalizer is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetRetryCount(0)

	return &TwilioSender{
		client:     client,
		baseURL:    base,
		scheme:     strings.TrimSuffix(strings.TrimSpace(scheme), ":"),
		normalizer: normalizer,
	}, nil
}

func (s *TwilioSender) Send(
	ctx context.Context,
	creds credentials.TwilioCredentials,
	recipient domain.Recipient,
	msg Message,
) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if !creds.IsComplete() {
		return nil, domain.ErrNotConfigured
	}

	to := s.normalizer.Normalize(recipient.Address)
	if err := checkAddress(to); err != nil {
		return nil, err
	}

	form := map[string]string{
		"From": s.address(s.normalizer.Normalize(creds.FromNumber)),
		"To":   s.address(to),
		"Body": msg.Text,
	}
	if media := strings.TrimSpace(msg.MediaURL); media != "" {
		form["MediaUrl"] = media
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(strings.TrimSpace(creds.AccountSID)))

	response, err := s.client.R().
		SetContext(ctx).
		SetBasicAuth(strings.TrimSpace(creds.AccountSID), strings.TrimSpace(creds.AuthToken)).
		SetHeader("Accept", "application/json").
		SetFormData(form).
		Post(endpoint)
	if err != nil {
		return nil, &ProviderError{Cause: unwrapURLError(err)}
	}
	if response == nil {
		return nil, &ProviderError{Message: "provider returned empty response"}
	}

	statusCode := response.StatusCode()
	body := response.Body()

	if isSuccessStatus(statusCode) {
		var created twilioMessage
		if err := json.Unmarshal(body, &created); err != nil {
			return nil, &ProviderError{
				StatusCode: statusCode,
				Message:    "malformed provider response",
				Cause:      err,
			}
		}
		return &Response{StatusCode: statusCode, MessageID: created.SID}, nil
	}

	providerErr := &ProviderError{StatusCode: statusCode}
	var apiErr twilioError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		providerErr.Message = strings.TrimSpace(apiErr.Message)
		if apiErr.Code != 0 {
			providerErr.Code = strconv.Itoa(apiErr.Code)
		}
	}
	return nil, providerErr
}

func (s *TwilioSender) address(number string) string {
	if s.scheme == "" {
		return number
	}
	return s.scheme + ":" + number
}

func normalizeBaseURL(raw string, fallback string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = fallback
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return "", fmt.Errorf("invalid provider base url: %w", err)
	}
	return strings.TrimRight(trimmed, "/"), nil
}

// unwrapURLError drops the *url.Error wrapper so reasons read as the transport failure.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
