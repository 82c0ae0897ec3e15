package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/mail-alfred/internal/model"
)

func appliedTask(msg model.Message, body func()) Task {
	return func(_ context.Context, release func()) model.Outcome {
		defer release()
		if body != nil {
			body()
		}
		return model.Applied(msg, model.ClassifiedResult{Label: model.LabelUnsure}, false)
	}
}

func TestController_FIFOWithSingleSlot(t *testing.T) {
	ctrl := NewController(context.Background(), 1)

	var (
		order []string
		mu    sync.Mutex
	)
	futures := make([]*Future, 0, 10)
	for i := range 10 {
		msg := model.Message{ID: fmt.Sprint(i)}
		futures = append(futures, ctrl.Submit(msg, appliedTask(msg, func() {
			mu.Lock()
			order = append(order, msg.ID)
			mu.Unlock()
		})))
	}
	ctrl.Wait()

	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}, order)
	for i, f := range futures {
		assert.Equal(t, fmt.Sprint(i), f.Wait().Message.ID)
		assert.Equal(t, model.OutcomeApplied, f.Wait().Kind)
	}
}

// inFlightGauge tracks overlapping calls. Each call blocks until limit calls
// have started at once, so a controller that admits fewer never gets there.
type inFlightGauge struct {
	reached chan struct{}
	once    sync.Once
	limit   int32
	current atomic.Int32
	max     atomic.Int32
}

func newInFlightGauge(limit int) *inFlightGauge {
	return &inFlightGauge{limit: int32(limit), reached: make(chan struct{})}
}

func (g *inFlightGauge) enter() {
	n := g.current.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			break
		}
	}
	if n >= g.limit {
		g.once.Do(func() { close(g.reached) })
	}
	select {
	case <-g.reached:
	case <-time.After(2 * time.Second):
	}
	g.current.Add(-1)
}

func TestController_BoundsInFlight(t *testing.T) {
	for _, limit := range []int{1, 3, 8} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			ctrl := NewController(context.Background(), limit)
			gauge := newInFlightGauge(limit)

			for i := range 30 {
				msg := model.Message{ID: fmt.Sprint(i)}
				ctrl.Submit(msg, appliedTask(msg, gauge.enter))
			}
			ctrl.Wait()

			assert.Equal(t, int32(limit), gauge.max.Load())
		})
	}
}

func TestController_ReleaseAdmitsNextTask(t *testing.T) {
	ctrl := NewController(context.Background(), 1)
	firstReleased := make(chan struct{})
	secondStarted := make(chan struct{})

	ctrl.Submit(model.Message{ID: "1"}, func(_ context.Context, release func()) model.Outcome {
		release()
		release() // idempotent
		close(firstReleased)
		<-secondStarted // still running while the next task holds the slot
		return model.Skipped(model.Message{ID: "1"}, model.SkipAlreadyClassified)
	})
	ctrl.Submit(model.Message{ID: "2"}, func(_ context.Context, release func()) model.Outcome {
		defer release()
		<-firstReleased
		close(secondStarted)
		return model.Skipped(model.Message{ID: "2"}, model.SkipAlreadyClassified)
	})

	done := make(chan struct{})
	go func() {
		ctrl.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second task was not admitted after the first released its slot")
	}
}

func TestController_CancelResolvesQueuedTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(ctx, 1)

	started := make(chan struct{})
	var ran atomic.Int32
	first := ctrl.Submit(model.Message{ID: "first"}, func(ctx context.Context, release func()) model.Outcome {
		defer release()
		ran.Add(1)
		close(started)
		<-ctx.Done()
		return model.Applied(model.Message{ID: "first"}, model.ClassifiedResult{Label: model.LabelRecords}, false)
	})

	queued := make([]*Future, 0, 5)
	for i := range 5 {
		msg := model.Message{ID: fmt.Sprint(i)}
		queued = append(queued, ctrl.Submit(msg, func(context.Context, func()) model.Outcome {
			ran.Add(1)
			return model.Applied(msg, model.ClassifiedResult{}, false)
		}))
	}

	<-started
	cancel()
	ctrl.Wait()

	assert.Equal(t, model.OutcomeApplied, first.Wait().Kind, "admitted task runs to completion")
	for i, f := range queued {
		o := f.Wait()
		assert.Equal(t, model.OutcomeSkipped, o.Kind)
		assert.Equal(t, model.SkipCanceled, o.SkipReason)
		assert.Equal(t, fmt.Sprint(i), o.Message.ID)
	}
	assert.EqualValues(t, 1, ran.Load())
}

func TestController_SubmitAfterClose(t *testing.T) {
	ctrl := NewController(context.Background(), 2)
	ctrl.Close()

	f := ctrl.Submit(model.Message{ID: "late"}, appliedTask(model.Message{ID: "late"}, nil))
	got := make(chan model.Outcome, 1)
	go func() { got <- f.Wait() }()
	select {
	case o := <-got:
		assert.Equal(t, model.SkipCanceled, o.SkipReason)
	case <-time.After(time.Second):
		t.Fatal("future of a rejected task should resolve immediately")
	}
	ctrl.Wait()
}

func TestController_WaitWithNoTasks(t *testing.T) {
	ctrl := NewController(context.Background(), 0)
	ctrl.Wait()
	ctrl.Wait()
	require.NotNil(t, ctrl)
}
