package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailpulse/dto"
	mperrors "github.com/customeros/mailpulse/internal/errors"
)

const plainMessage = "Message-ID: <abc123@example.com>\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n" +
	"From: Jane Doe <Jane.Doe@Example.com>\r\n" +
	"To: sales@acme.io, Bob <bob@acme.io>\r\n" +
	"Cc: not-an-address\r\n" +
	"Subject: Re: Pricing question\r\n" +
	"List-Unsubscribe: <mailto:unsub@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi there,\r\nI'd love to learn more about your pricing.\r\n"

const htmlMessage = "Message-ID: <html-1@example.com>\r\n" +
	"Date: Tue, 03 Jan 2006 10:00:00 +0000\r\n" +
	"From: news@example.com\r\n" +
	"To: me@acme.io\r\n" +
	"Subject: Newsletter\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><head><style>p{color:red}</style></head><body><p>Hello   world</p><script>alert(1)</script><p>Second line</p></body></html>\r\n"

func TestParser_Parse_PlainText(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(plainMessage))

	require.NoError(t, err)
	assert.Equal(t, "abc123@example.com", parsed.MessageID)
	assert.Equal(t, "Re: Pricing question", parsed.Subject)
	assert.Equal(t, "Jane Doe", parsed.FromName)
	assert.Equal(t, "jane.doe@example.com", strings.ToLower(parsed.FromAddress))
	assert.Len(t, parsed.To, 2)
	assert.Empty(t, parsed.Cc)
	assert.Equal(t, time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC), parsed.SentAt)
	assert.Contains(t, parsed.TextBody, "learn more about your pricing")
	assert.Equal(t, "<mailto:unsub@example.com>", parsed.Headers["List-Unsubscribe"])
	assert.Zero(t, parsed.Attachments)
}

func TestParser_Parse_HTMLOnly(t *testing.T) {
	parsed, err := NewParser().Parse([]byte(htmlMessage))

	require.NoError(t, err)
	assert.Equal(t, "html-1@example.com", parsed.MessageID)
	assert.NotEmpty(t, parsed.HTMLBody)
	assert.Contains(t, parsed.TextBody, "Hello")
	assert.NotContains(t, parsed.TextBody, "alert(1)")
}

func TestParser_Parse_Empty(t *testing.T) {
	_, err := NewParser().Parse([]byte("  \r\n"))

	assert.ErrorIs(t, err, mperrors.ErrParse)
}

func TestParser_Parse_MissingMessageID(t *testing.T) {
	raw := "From: a@example.com\r\nSubject: hi\r\n\r\nbody\r\n"

	parsed, err := NewParser().Parse([]byte(raw))

	require.NoError(t, err)
	assert.Empty(t, parsed.MessageID)
	assert.True(t, parsed.SentAt.IsZero())
}

func TestHTMLToText(t *testing.T) {
	text := HTMLToText("<div>One</div><div>Two <b>bold</b></div><style>x{}</style>")

	assert.Equal(t, "One\nTwo bold", text)
}

func TestResolveSentAt(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	internal := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	header := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, header, ResolveSentAt(&dto.ParsedMessage{SentAt: header}, &dto.RawMessage{InternalDate: internal}, now))
	assert.Equal(t, internal, ResolveSentAt(&dto.ParsedMessage{}, &dto.RawMessage{InternalDate: internal}, now))
	assert.Equal(t, now, ResolveSentAt(&dto.ParsedMessage{}, nil, now))
}
