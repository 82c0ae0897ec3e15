package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns the first SIGINT or SIGTERM into context
// cancellation and tells the user what happens to work in flight.
type InterruptHandler struct {
	writer      io.Writer
	interrupted bool
	watch       bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stderr
	}
	return &InterruptHandler{writer: writer}
}

// HandleInterrupts returns a context canceled on the first interrupt. A
// second interrupt is left to the default handler, so it kills the process.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, watch bool) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.watch = watch

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			signal.Stop(sigChan)
			return
		}
		signal.Stop(sigChan)
		h.trigger()
		cancel()
	}()

	return ctx
}

func (h *InterruptHandler) trigger() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interrupted {
		return
	}
	h.interrupted = true
	h.showInterruptMessage()
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Interrupted!")
	msg += "\n" + FormatInfo("Queued messages are skipped; label writes already started will finish.")
	if h.watch {
		msg += "\n" + FormatInfo("Watch mode stopped.")
	}
	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
