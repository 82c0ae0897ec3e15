package gmail

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// metadataHeaders are requested during the scan; the body is fetched later.
var metadataHeaders = []string{"From", "To", "Cc", "Subject", "Date"}

// parseMessage converts an API message into the domain model. labelName
// resolves label IDs to their display names.
func parseMessage(msg *gmailapi.Message, labelName func(id string) string) model.Message {
	out := model.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   make(map[string]bool, len(msg.LabelIds)),
	}

	for _, id := range msg.LabelIds {
		out.Labels[labelName(id)] = true
	}

	if msg.Payload != nil {
		headers := make(map[string]string, len(msg.Payload.Headers))
		for _, h := range msg.Payload.Headers {
			key := strings.ToLower(h.Name)
			if _, seen := headers[key]; !seen {
				headers[key] = h.Value
			}
		}

		out.Subject = headers["subject"]
		out.Sender = headers["from"]
		out.Recipients = splitAddresses(headers["to"])
		out.CC = splitAddresses(headers["cc"])
		if raw := headers["date"]; raw != "" {
			if date, err := mail.ParseDate(raw); err == nil {
				out.Date = date
			}
		}
		out.Body = extractPlainBody(msg.Payload)
	}

	if out.Date.IsZero() && msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate)
	}

	return out
}

// splitAddresses parses an address header, falling back to a comma split
// when the header is not RFC 5322 compliant.
func splitAddresses(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, addr := range list {
			if addr.Name != "" {
				out = append(out, addr.Name+" <"+addr.Address+">")
			} else {
				out = append(out, addr.Address)
			}
		}
		return out
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractPlainBody returns the first text/plain part, depth first.
func extractPlainBody(part *gmailapi.MessagePart) string {
	if part == nil {
		return ""
	}
	if len(part.Parts) == 0 {
		if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil {
			return decodeBody(part.Body.Data)
		}
		return ""
	}
	for _, child := range part.Parts {
		if body := extractPlainBody(child); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody decodes base64url data with or without padding.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(decoded), "�")
}
