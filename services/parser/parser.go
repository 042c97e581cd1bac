package parser

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"

	"github.com/customeros/mailpulse/dto"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/utils"
)

// headers kept on the record for later inspection
var keptHeaders = []string{
	"Auto-Submitted",
	"Content-Type",
	"In-Reply-To",
	"List-Unsubscribe",
	"Precedence",
	"References",
	"Reply-To",
	"X-Autoreply",
	"X-Mailer",
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse turns an RFC 5322 message into a ParsedMessage. A message without any
// header is rejected as unparseable.
func (p *Parser) Parse(raw []byte) (*dto.ParsedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", mperrors.ErrParse)
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, mperrors.Classify(mperrors.ErrParse, err)
	}
	if len(envelope.GetHeaderKeys()) == 0 {
		return nil, fmt.Errorf("%w: message has no headers", mperrors.ErrParse)
	}

	parsed := &dto.ParsedMessage{
		MessageID:   utils.NormalizeMessageID(envelope.GetHeader("Message-ID")),
		Subject:     strings.TrimSpace(envelope.GetHeader("Subject")),
		TextBody:    strings.TrimSpace(envelope.Text),
		HTMLBody:    envelope.HTML,
		Headers:     make(map[string]string),
		Attachments: len(envelope.Attachments) + len(envelope.Inlines),
	}

	parsed.FromName, parsed.FromAddress = firstAddress(envelope, "From")
	if parsed.FromAddress == "" {
		// some bulk senders only set Sender
		parsed.FromName, parsed.FromAddress = firstAddress(envelope, "Sender")
	}
	parsed.To = addressList(envelope, "To")
	parsed.Cc = addressList(envelope, "Cc")
	parsed.Bcc = addressList(envelope, "Bcc")

	if date := envelope.GetHeader("Date"); date != "" {
		if sentAt, err := mail.ParseDate(date); err == nil {
			parsed.SentAt = sentAt.UTC()
		}
	}

	if parsed.TextBody == "" && parsed.HTMLBody != "" {
		parsed.TextBody = HTMLToText(parsed.HTMLBody)
	}

	for _, key := range keptHeaders {
		if value := envelope.GetHeader(key); value != "" {
			parsed.Headers[key] = value
		}
	}

	return parsed, nil
}

func firstAddress(envelope *enmime.Envelope, header string) (string, string) {
	addresses, err := envelope.AddressList(header)
	if err != nil || len(addresses) == 0 {
		return "", ""
	}
	validation := mailvalidate.ValidateEmailSyntax(addresses[0].Address)
	if !validation.IsValid {
		return addresses[0].Name, ""
	}
	return addresses[0].Name, validation.CleanEmail
}

func addressList(envelope *enmime.Envelope, header string) []string {
	addresses, err := envelope.AddressList(header)
	if err != nil || len(addresses) == 0 {
		return []string{}
	}

	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		validation := mailvalidate.ValidateEmailSyntax(address.Address)
		if validation.IsValid {
			result = append(result, validation.CleanEmail)
		}
	}
	return result
}

// HTMLToText extracts readable text from an HTML body.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br, p, div, li, tr, h1, h2, h3, h4").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// ResolveSentAt prefers the Date header, then the server's internal date.
func ResolveSentAt(parsed *dto.ParsedMessage, raw *dto.RawMessage, now time.Time) time.Time {
	switch {
	case !parsed.SentAt.IsZero():
		return parsed.SentAt
	case raw != nil && !raw.InternalDate.IsZero():
		return raw.InternalDate.UTC()
	default:
		return now.UTC()
	}
}
