package imap

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// messageFromBuffer converts fetched envelope data into the domain model.
// Flags and keywords become labels.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) model.Message {
	msg := model.Message{
		ID:     strconv.FormatUint(uint64(buf.UID), 10),
		Labels: make(map[string]bool, len(buf.Flags)),
	}

	for _, flag := range buf.Flags {
		msg.Labels[string(flag)] = true
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.Date = env.Date
		msg.ThreadID = env.MessageID
		if len(env.From) > 0 {
			msg.Sender = formatAddress(env.From[0])
		}
		msg.Recipients = formatAddresses(env.To)
		msg.CC = formatAddresses(env.Cc)
	}

	if msg.Date.IsZero() {
		msg.Date = buf.InternalDate
	}
	return msg
}

func formatAddress(addr imapv2.Address) string {
	if addr.Name != "" {
		return addr.Name + " <" + addr.Addr() + ">"
	}
	return addr.Addr()
}

func formatAddresses(list []imapv2.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.IsGroupStart() || addr.IsGroupEnd() {
			continue
		}
		out = append(out, formatAddress(addr))
	}
	return out
}

// plainTextBody extracts the first inline text/plain part of a raw message.
// A message that is not valid MIME is returned as is.
func plainTextBody(raw []byte) string {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	defer func() { _ = mr.Close() }()

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return ""
		}
		if err != nil {
			return ""
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		return string(body)
	}
}
