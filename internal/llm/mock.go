package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/mail-alfred/internal/model"
)

// MockResponse is one scripted answer of a MockClient.
type MockResponse struct {
	Err   error
	Label string
}

// MockClient is a deterministic Client for tests and offline demos. Scripted
// responses are consumed first; after that Func answers, and without Func
// the email text is matched against a few keywords.
type MockClient struct {
	Func        func(req Request) (RawClassification, error)
	calls       []Request
	Script      []MockResponse
	Delay       time.Duration
	inFlight    int
	maxInFlight int
	mu          sync.Mutex
}

// NewMockClient creates a keyword-driven mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Classify records the call, waits Delay and answers.
func (m *MockClient) Classify(ctx context.Context, req Request) (RawClassification, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.inFlight++
	m.maxInFlight = max(m.maxInFlight, m.inFlight)
	var scripted *MockResponse
	if len(m.Script) > 0 {
		scripted = &m.Script[0]
		m.Script = m.Script[1:]
	}
	fn := m.Func
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return RawClassification{}, ctx.Err()
		case <-timer.C:
		}
	}

	switch {
	case scripted != nil:
		return RawClassification{Label: scripted.Label}, scripted.Err
	case fn != nil:
		return fn(req)
	default:
		return RawClassification{Label: string(keywordLabel(req.Prompt))}, nil
	}
}

// Calls returns a copy of every request received.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of requests received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MaxInFlight returns the highest number of overlapping calls observed.
func (m *MockClient) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// keywordLabel picks a label from the email part of a prompt.
func keywordLabel(prompt string) model.Label {
	email, _, _ := strings.Cut(prompt, "Current datetime:")
	email = strings.ToLower(email)

	switch {
	case containsAny(email, "invoice due", "action required", "please reply", "please confirm", "overdue"):
		return model.LabelRequiresAction
	case containsAny(email, "newsletter", "unsubscribe", "% off", "sale"):
		return model.LabelBulkContent
	case containsAny(email, "receipt", "your order", "shipped", "statement"):
		return model.LabelRecords
	case containsAny(email, "fyi", "article", "worth a read"):
		return model.LabelReadLater
	default:
		return model.LabelUnsure
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
