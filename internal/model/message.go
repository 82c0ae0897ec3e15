// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Message is a normalized mailbox message as produced by a MessageSource.
// Messages are immutable once read; the pipeline never modifies one.
type Message struct {
	Date       time.Time
	Labels     map[string]bool // label name -> present
	ID         string          // stable across scans of the same mailbox
	ThreadID   string
	Sender     string
	Subject    string
	Snippet    string
	Body       string
	Recipients []string
	CC         []string
}

// HasLabel reports whether the message currently carries the named label.
func (m Message) HasLabel(name string) bool {
	return m.Labels[name]
}

// LabelNames returns the names of the labels present on the message, sorted.
func (m Message) LabelNames() []string {
	names := make([]string, 0, len(m.Labels))
	for name, present := range m.Labels {
		if present {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Excerpt returns the text used as the message body for classification:
// the plain body when present, otherwise the snippet.
func (m Message) Excerpt() string {
	if body := strings.TrimSpace(m.Body); body != "" {
		return body
	}
	return m.Snippet
}

func (m Message) String() string {
	subject := m.Subject
	if len(subject) > 50 {
		subject = subject[:50] + "..."
	}
	return fmt.Sprintf("Message(id=%s, subject=%s, from=%s)", m.ID, subject, m.Sender)
}

// CompareIDs orders message identifiers the way mailbox providers allocate
// them: a shorter identifier is older than a longer one, and identifiers of
// equal length compare lexicographically. This matches Gmail's hex IDs and
// IMAP's decimal UIDs.
func CompareIDs(a, b string) int {
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return strings.Compare(a, b)
}
