package mailbox

import (
	"fmt"
	"time"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// DemoScope is the scope of the demo inbox.
const DemoScope = "demo:inbox"

type demoEmail struct {
	sender  string
	subject string
	body    string
	labels  []string
}

var demoEmails = []demoEmail{
	{sender: "Acme Billing <billing@acme.example>", subject: "Invoice due Friday", body: "Invoice #1042 for $120.00 is due on Friday. Please confirm receipt."},
	{sender: "The Weekly Gopher <news@gopher.example>", subject: "This week in Go", body: "Our newsletter this week covers iterators. Unsubscribe at any time."},
	{sender: "Shop <orders@shop.example>", subject: "Your order has shipped", body: "Your order #88-221 has shipped and will arrive Tuesday."},
	{sender: "Dana <dana@example.com>", subject: "FYI: worth a read", body: "Found this article on database indexing, thought you might like it."},
	{sender: "Bank <alerts@bank.example>", subject: "Your March statement", body: "Your monthly statement is ready to view."},
	{sender: "Lee <lee@example.com>", subject: "Lunch?", body: "Are you around next week?"},
	{sender: "Outlet <deals@outlet.example>", subject: "48 hour sale: 40% off", body: "Everything must go."},
	{sender: "HR <hr@example.com>", subject: "Action required: benefits enrollment", body: "Enrollment closes on the 30th. Please reply with your selection."},
	{sender: "Shop <orders@shop.example>", subject: "Receipt for your purchase", body: "Thanks for shopping with us.", labels: []string{string(model.LabelRecords)}},
	{sender: "The Weekly Gopher <news@gopher.example>", subject: "Last week in Go", body: "Our newsletter covers generics.", labels: []string{string(model.LabelBulkContent)}},
}

// NewDemoSource returns a source preloaded with a small inbox of typical
// messages, newest first. The two oldest are already classified.
func NewDemoSource(now time.Time) *MockSource {
	msgs := make([]model.Message, 0, len(demoEmails))
	for i, e := range demoEmails {
		labels := map[string]bool{"INBOX": true}
		for _, l := range e.labels {
			labels[l] = true
		}
		msgs = append(msgs, model.Message{
			ID:         fmt.Sprintf("18f%04x", len(demoEmails)-i),
			ThreadID:   fmt.Sprintf("t%02d", len(demoEmails)-i),
			Sender:     e.sender,
			Recipients: []string{"me@example.com"},
			Subject:    e.subject,
			Date:       now.Add(-time.Duration(i) * 3 * time.Hour),
			Snippet:    snippet(e.body),
			Body:       e.body,
			Labels:     labels,
		})
	}
	return NewMockSource(DemoScope, msgs...)
}

func snippet(body string) string {
	const n = 40
	r := []rune(body)
	if len(r) <= n {
		return body
	}
	return string(r[:n])
}
