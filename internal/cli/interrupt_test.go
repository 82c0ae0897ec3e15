package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.interrupted)
		})
	}
}

func TestHandleInterrupts_Signal(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx := handler.HandleInterrupts(context.Background(), true)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context was not canceled by SIGINT")
	}

	assert.True(t, handler.WasInterrupted())
	assert.Eventually(t, func() bool {
		return strings.Contains(output.String(), "Watch mode stopped.")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, output.String(), "Interrupted!")
}

func TestHandleInterrupts_ParentCanceled(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent, false)
	cancel()

	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)

	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}

func TestInterruptMessageShownOnce(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	handler.trigger()
	handler.trigger()

	assert.Equal(t, 1, strings.Count(output.String(), "Interrupted!"))
}

func TestShowInterruptMessage(t *testing.T) {
	tests := []struct {
		name        string
		expected    []string
		notExpected []string
		watch       bool
	}{
		{
			name:     "single run",
			expected: []string{"Interrupted!", "label writes already started will finish"},
			notExpected: []string{
				"Watch mode stopped.",
			},
		},
		{
			name:     "watch mode",
			watch:    true,
			expected: []string{"Interrupted!", "Watch mode stopped."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			handler := &InterruptHandler{writer: &output, watch: tt.watch}

			handler.showInterruptMessage()

			for _, expected := range tt.expected {
				assert.Contains(t, output.String(), expected)
			}
			for _, notExpected := range tt.notExpected {
				assert.NotContains(t, output.String(), notExpected)
			}
		})
	}
}
