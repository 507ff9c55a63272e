package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/pitampoudel/email-router/internal/email"
)

// Relay is the physical forward primitive: hand the raw message to another
// mailbox. Implementations report a downstream anti-spoofing refusal as an
// email.RejectionError so the deliverer can retry with rewritten headers.
type Relay interface {
	Forward(ctx context.Context, target string, raw []byte, rewrite *email.HeaderRewrite) error
}

// SESRelayConfig holds the configuration for creating an SESRelay.
type SESRelayConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SendEmailAPI is the slice of the SES v2 client the relay uses. Tests
// substitute a fake.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESRelay forwards raw messages through AWS SES v2.
type SESRelay struct {
	client SendEmailAPI
}

// NewSESRelay creates an SESRelay from AWS configuration.
func NewSESRelay(ctx context.Context, cfg SESRelayConfig) (*SESRelay, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESRelay{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewSESRelayWithClient creates an SESRelay with a custom client, used for
// testing.
func NewSESRelayWithClient(client SendEmailAPI) *SESRelay {
	return &SESRelay{client: client}
}

// Forward relays the raw message to target, applying the header rewrite
// first when one is given.
func (r *SESRelay) Forward(ctx context.Context, target string, raw []byte, rewrite *email.HeaderRewrite) error {
	data := raw
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{target},
		},
	}
	if rewrite != nil {
		data = RewriteHeaders(raw, rewrite)
		// The envelope sender must match the rewritten From or the rewrite
		// defeats its own purpose.
		input.FromEmailAddress = aws.String(rewrite.From)
	}
	input.Content = &types.EmailContent{
		Raw: &types.RawMessage{Data: data},
	}

	if _, err := r.client.SendEmail(ctx, input); err != nil {
		if isSpoofingRejection(err) {
			return &email.RejectionError{Reason: err.Error()}
		}
		return fmt.Errorf("SES send failed: %w", err)
	}
	return nil
}

// isSpoofingRejection reports whether an SES error means the sending
// identity was refused rather than the transport failing.
func isSpoofingRejection(err error) bool {
	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not verified") || strings.Contains(msg, "not authorized")
}

// RewriteHeaders replaces the From and Reply-To headers in the header
// section of a raw RFC 5322 message, inserting them when absent. The body
// is left untouched.
func RewriteHeaders(raw []byte, rewrite *email.HeaderRewrite) []byte {
	headerEnd := bytes.Index(raw, []byte("\r\n\r\n"))
	sep := []byte("\r\n")
	if headerEnd < 0 {
		headerEnd = bytes.Index(raw, []byte("\n\n"))
		sep = []byte("\n")
	}

	var headerBlock, body []byte
	if headerEnd < 0 {
		headerBlock = raw
	} else {
		headerBlock = raw[:headerEnd]
		body = raw[headerEnd:]
	}

	lines := splitHeaderLines(headerBlock, sep)

	var out bytes.Buffer
	for _, line := range lines {
		lower := strings.ToLower(string(line))
		if strings.HasPrefix(lower, "from:") || strings.HasPrefix(lower, "reply-to:") {
			continue
		}
		out.Write(line)
		out.Write(sep)
	}
	fmt.Fprintf(&out, "From: %s", rewrite.From)
	out.Write(sep)
	fmt.Fprintf(&out, "Reply-To: %s", rewrite.ReplyTo)
	if body != nil {
		out.Write(body)
	} else {
		out.Write(sep)
	}
	return out.Bytes()
}

// splitHeaderLines splits a header block into logical lines, keeping folded
// continuation lines attached to their header.
func splitHeaderLines(block, sep []byte) [][]byte {
	physical := bytes.Split(block, sep)
	var logical [][]byte
	for _, line := range physical {
		if len(line) == 0 {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(logical) > 0 {
			joined := append(append([]byte{}, logical[len(logical)-1]...), sep...)
			logical[len(logical)-1] = append(joined, line...)
			continue
		}
		logical = append(logical, line)
	}
	return logical
}
