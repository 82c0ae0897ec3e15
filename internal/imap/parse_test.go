package imap

import (
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

func TestMessageFromBuffer(t *testing.T) {
	date := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:   imapv2.UID(4211),
		Flags: []imapv2.Flag{imapv2.FlagSeen, "classifications/records"},
		Envelope: &imapv2.Envelope{
			Date:      date,
			Subject:   "Receipt",
			MessageID: "abc@example.com",
			From:      []imapv2.Address{{Name: "Shop", Mailbox: "orders", Host: "shop.example"}},
			To:        []imapv2.Address{{Mailbox: "me", Host: "example.com"}},
			Cc: []imapv2.Address{
				{Mailbox: "team", Host: "example.com"},
				{Mailbox: "cc2", Host: "example.com"},
			},
		},
	}

	msg := messageFromBuffer(buf)

	assert.Equal(t, "4211", msg.ID)
	assert.Equal(t, "Receipt", msg.Subject)
	assert.Equal(t, date, msg.Date)
	assert.Equal(t, "abc@example.com", msg.ThreadID)
	assert.Equal(t, "Shop <orders@shop.example>", msg.Sender)
	assert.Equal(t, []string{"me@example.com"}, msg.Recipients)
	assert.Equal(t, []string{"team@example.com", "cc2@example.com"}, msg.CC)
	assert.True(t, msg.HasLabel(`\Seen`))
	assert.True(t, model.DefaultTaxonomy().Intersects(msg.Labels))
}

func TestMessageFromBuffer_NoEnvelope(t *testing.T) {
	internal := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := messageFromBuffer(&imapclient.FetchMessageBuffer{UID: 7, InternalDate: internal})
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, internal, msg.Date)
	assert.False(t, model.DefaultTaxonomy().Intersects(msg.Labels))
}

func TestPlainTextBody(t *testing.T) {
	multipart := strings.Join([]string{
		"From: a@example.com",
		"Subject: hi",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body</p>",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--b1--",
		"",
	}, "\r\n")

	single := strings.Join([]string{
		"From: a@example.com",
		"Subject: hi",
		"Content-Type: text/plain",
		"",
		"just text",
	}, "\r\n")

	htmlOnly := strings.Join([]string{
		"From: a@example.com",
		"Content-Type: text/html",
		"",
		"<b>bold</b>",
	}, "\r\n")

	assert.Equal(t, "plain body", strings.TrimSpace(plainTextBody([]byte(multipart))))
	assert.Equal(t, "just text", strings.TrimSpace(plainTextBody([]byte(single))))
	assert.Empty(t, plainTextBody([]byte(htmlOnly)))
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, imapv2.UID(42), uid)

	for _, bad := range []string{"", "0", "-1", "abc", "99999999999"} {
		_, err := parseUID(bad)
		assert.ErrorIs(t, err, common.ErrNotFound, bad)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{Host: "mail.example.com"}.withDefaults()
	assert.Equal(t, "INBOX", opts.Mailbox)
	assert.Equal(t, SecurityTLS, opts.Security)
	assert.Equal(t, 993, opts.Port)
	assert.Equal(t, 100, opts.BatchSize)

	opts = Options{Security: SecurityStartTLS}.withDefaults()
	assert.Equal(t, 143, opts.Port)
}
