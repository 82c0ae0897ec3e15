// Package mailbox provides an in-memory message source used by tests and by
// the offline demo mode.
package mailbox

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/Veraticus/mail-alfred/internal/common"
	"github.com/Veraticus/mail-alfred/internal/model"
)

// ApplyCall records one ApplyLabel invocation.
type ApplyCall struct {
	Err       error
	MessageID string
	Label     model.Label
}

// MockSource is an in-memory service.MessageSource and service.BodyLoader.
// Messages are kept newest first. Labels applied through ApplyLabel are
// visible to later scans, so repeated runs behave like a real mailbox.
type MockSource struct {
	// ScanErr, when set, is yielded after ScanErrAfter messages and ends the scan.
	ScanErr error
	// ApplyFunc, when set, decides the result of each ApplyLabel call before
	// the label is stored.
	ApplyFunc    func(ctx context.Context, messageID string, label model.Label) error
	bodies       map[string]string
	scope        string
	messages     []model.Message
	applyCalls   []ApplyCall
	bodyLoads    []string
	ScanErrAfter int
	scans        int
	mu           sync.Mutex
}

// NewMockSource creates a source holding msgs, which must be ordered newest
// first. Bodies are held back until LoadBody, like a metadata-only scan.
func NewMockSource(scope string, msgs ...model.Message) *MockSource {
	m := &MockSource{
		scope:  scope,
		bodies: make(map[string]string, len(msgs)),
	}
	for _, msg := range msgs {
		m.addLocked(msg)
	}
	return m
}

// Add inserts msg as the newest message.
func (m *MockSource) Add(msg model.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = slices.Insert(m.messages, 0, m.prepareLocked(msg))
}

func (m *MockSource) addLocked(msg model.Message) {
	m.messages = append(m.messages, m.prepareLocked(msg))
}

func (m *MockSource) prepareLocked(msg model.Message) model.Message {
	labels := make(map[string]bool, len(msg.Labels))
	for name, present := range msg.Labels {
		labels[name] = present
	}
	msg.Labels = labels
	if msg.Body != "" {
		m.bodies[msg.ID] = msg.Body
		msg.Body = ""
	}
	return msg
}

// Scope returns the scope given at construction.
func (m *MockSource) Scope() string {
	return m.scope
}

// Scan yields copies of the stored messages newest first.
func (m *MockSource) Scan(ctx context.Context, limit int) iter.Seq2[model.Message, error] {
	return func(yield func(model.Message, error) bool) {
		m.mu.Lock()
		m.scans++
		snapshot := make([]model.Message, len(m.messages))
		for i, msg := range m.messages {
			snapshot[i] = cloneMessage(msg)
		}
		scanErr, errAfter := m.ScanErr, m.ScanErrAfter
		m.mu.Unlock()

		for i, msg := range snapshot {
			if scanErr != nil && i == errAfter {
				yield(model.Message{}, scanErr)
				return
			}
			if limit > 0 && i >= limit {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
		if scanErr != nil && errAfter >= len(snapshot) {
			yield(model.Message{}, scanErr)
		}
	}
}

// LoadBody returns msg with the stored body filled in.
func (m *MockSource) LoadBody(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return msg, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodyLoads = append(m.bodyLoads, msg.ID)

	if _, ok := m.indexLocked(msg.ID); !ok {
		return msg, fmt.Errorf("message %s: %w", msg.ID, common.ErrNotFound)
	}
	msg.Body = m.bodies[msg.ID]
	return msg, nil
}

// ApplyLabel adds label to the stored message. Applying a label twice is a
// no-op apart from the recorded call.
func (m *MockSource) ApplyLabel(ctx context.Context, messageID string, label model.Label) error {
	m.mu.Lock()
	fn := m.ApplyFunc
	m.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, messageID, label)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		idx, ok := m.indexLocked(messageID)
		if ok {
			m.messages[idx].Labels[string(label)] = true
		} else {
			err = fmt.Errorf("message %s: %w", messageID, common.ErrNotFound)
		}
	}
	m.applyCalls = append(m.applyCalls, ApplyCall{MessageID: messageID, Label: label, Err: err})
	return err
}

// Message returns a copy of the stored message with the given ID.
func (m *MockSource) Message(id string) (model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexLocked(id)
	if !ok {
		return model.Message{}, false
	}
	return cloneMessage(m.messages[idx]), true
}

// ApplyCalls returns a copy of all ApplyLabel calls, failed ones included.
func (m *MockSource) ApplyCalls() []ApplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ApplyCall, len(m.applyCalls))
	copy(calls, m.applyCalls)
	return calls
}

// AppliedCount returns how many successful writes targeted messageID.
func (m *MockSource) AppliedCount(messageID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, call := range m.applyCalls {
		if call.MessageID == messageID && call.Err == nil {
			n++
		}
	}
	return n
}

// BodyLoads returns the IDs passed to LoadBody, in call order.
func (m *MockSource) BodyLoads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bodyLoads)
}

// ScanCount returns the number of scans started.
func (m *MockSource) ScanCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scans
}

// SetScanError makes the next scans yield err after n messages. A nil err
// clears it.
func (m *MockSource) SetScanError(err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ScanErr = err
	m.ScanErrAfter = n
}

// SetApplyFunc replaces the ApplyLabel hook.
func (m *MockSource) SetApplyFunc(fn func(ctx context.Context, messageID string, label model.Label) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyFunc = fn
}

func (m *MockSource) indexLocked(id string) (int, bool) {
	idx := slices.IndexFunc(m.messages, func(msg model.Message) bool { return msg.ID == id })
	return idx, idx >= 0
}

func cloneMessage(msg model.Message) model.Message {
	labels := make(map[string]bool, len(msg.Labels))
	for name, present := range msg.Labels {
		labels[name] = present
	}
	msg.Labels = labels
	msg.Recipients = slices.Clone(msg.Recipients)
	msg.CC = slices.Clone(msg.CC)
	return msg
}
