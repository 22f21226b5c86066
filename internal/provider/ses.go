package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awscredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/kursadbilgin/campaign-dispatcher/internal/credentials"
	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

const sesCharset = "UTF-8"

var _ Sender[credentials.SESCredentials] = (*SESSender)(nil)

// SESSender delivers emails through AWS SES v2. The SDK client is rebuilt whenever the
// credentials it was built from change.
type SESSender struct {
	endpoint   string
	httpClient *http.Client

	mu        sync.Mutex
	client    *sesv2.Client
	clientFor credentials.SESCredentials
}

// NewSESSender builds a sender. endpoint overrides the regional SES endpoint when set.
func NewSESSender(endpoint string, httpClient *http.Client) *SESSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultProviderTimeout}
	}
	return &SESSender{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		httpClient: httpClient,
	}
}

func (s *SESSender) Send(
	ctx context.Context,
	creds credentials.SESCredentials,
	recipient domain.Recipient,
	msg Message,
) (*Response, error) {
	if s == nil {
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

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatAddress(creds.FromName, creds.FromAddress)),
		Destination: &types.Destination{
			ToAddresses: []string{formatAddress(recipient.Name, to)},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String(sesCharset)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String(sesCharset)},
				},
			},
		},
	}
	if replyTo := strings.TrimSpace(creds.ReplyTo); replyTo != "" {
		input.ReplyToAddresses = []string{replyTo}
	}

	output, err := s.sesClient(creds).SendEmail(ctx, input)
	if err != nil {
		return nil, sesError(err)
	}

	messageID := ""
	if output != nil && output.MessageId != nil {
		messageID = *output.MessageId
	}
	return &Response{StatusCode: http.StatusOK, MessageID: messageID}, nil
}

func (s *SESSender) sesClient(creds credentials.SESCredentials) *sesv2.Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil && s.clientFor == creds {
		return s.client
	}

	opts := sesv2.Options{
		Region: strings.TrimSpace(creds.Region),
		Credentials: awscredentials.NewStaticCredentialsProvider(
			strings.TrimSpace(creds.AccessKeyID),
			strings.TrimSpace(creds.SecretAccessKey),
			"",
		),
		Retryer:    aws.NopRetryer{},
		HTTPClient: s.httpClient,
	}
	if s.endpoint != "" {
		opts.BaseEndpoint = aws.String(s.endpoint)
	}

	s.client = sesv2.New(opts)
	s.clientFor = creds
	return s.client
}

func sesError(err error) error {
	providerErr := &ProviderError{Cause: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		providerErr.StatusCode = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		providerErr.Code = apiErr.ErrorCode()
		providerErr.Message = apiErr.ErrorMessage()
	}

	return providerErr
}

func formatAddress(name string, address string) string {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return strings.TrimSpace(address)
	}
	return (&mail.Address{Name: trimmedName, Address: strings.TrimSpace(address)}).String()
}
