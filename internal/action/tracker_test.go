// internal/action/tracker_test.go
package action

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/fault"
)

type completion struct {
	id      string
	success bool
	kind    fault.Kind
}

type recorder struct {
	mu  sync.Mutex
	got []completion
}

func (r *recorder) ActionCompleted(id string, success bool, kind fault.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, completion{id, success, kind})
}

func (r *recorder) all() []completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completion(nil), r.got...)
}

func TestResolveExactlyOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	rec := &recorder{}
	tr := NewTracker(Options{Notifier: rec, Logger: zap.New(core), Timeout: time.Minute})

	tk := tr.Submit(Request{DeviceID: "d1", Signal: "power", Expected: codec.Bool(true)})
	require.Equal(t, 1, tr.Len())

	assert.True(t, tr.Resolve(tk.ID, nil))
	assert.False(t, tr.Resolve(tk.ID, fault.ErrHardwareRejected), "second resolution is a no-op")

	assert.Equal(t, 0, tr.Len())
	require.NoError(t, tk.Wait(context.Background()))
	assert.Equal(t, []completion{{tk.ID, true, fault.KindNone}}, rec.all())
	assert.Equal(t, 1, logs.FilterMessage("unexpected action resolution").Len())
}

func TestUniqueIDs(t *testing.T) {
	tr := NewTracker(Options{Timeout: time.Minute})
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tk := tr.Submit(Request{DeviceID: "d1"})
		require.False(t, seen[tk.ID])
		seen[tk.ID] = true
	}
	assert.Equal(t, 100, tr.Len())
	tr.Close()
	assert.Equal(t, 0, tr.Len())
}

func TestDeadline(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(Options{Notifier: rec})

	tk := tr.Submit(Request{DeviceID: "d1", Signal: "max_charging_current", Timeout: 10 * time.Millisecond})

	err := tk.Wait(context.Background())
	assert.ErrorIs(t, err, fault.ErrTimeout)
	assert.Equal(t, 0, tr.Len())
	assert.False(t, tr.Resolve(tk.ID, nil), "late reply after timeout has no effect")

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, fault.KindTimeout, got[0].kind)
}

func TestCancelDevice(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(Options{Notifier: rec, Timeout: time.Minute})

	a := tr.Submit(Request{DeviceID: "d1"})
	b := tr.Submit(Request{DeviceID: "d1"})
	c := tr.Submit(Request{DeviceID: "d2"})

	assert.Equal(t, 2, tr.CancelDevice("d1"))
	assert.ErrorIs(t, a.Err(), fault.ErrCancelled)
	assert.ErrorIs(t, b.Err(), fault.ErrCancelled)

	select {
	case <-c.Done():
		t.Fatal("other device's action must stay pending")
	default:
	}
	assert.Equal(t, []string{c.ID}, tr.Pending("d2"))

	for _, got := range rec.all() {
		assert.Equal(t, fault.KindCancelled, got.kind)
		assert.False(t, got.success)
	}
}

func TestOnSuccess(t *testing.T) {
	var applied []string
	tr := NewTracker(Options{
		Timeout:   time.Minute,
		OnSuccess: func(tk *Ticket) { applied = append(applied, tk.Signal) },
	})

	ok := tr.Submit(Request{DeviceID: "d1", Signal: "power"})
	bad := tr.Submit(Request{DeviceID: "d1", Signal: "max_charging_current"})
	tr.Resolve(ok.ID, nil)
	tr.Resolve(bad.ID, fault.ErrHardwareRejected)

	assert.Equal(t, []string{"power"}, applied)
}

func TestSubmitAfterClose(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(Options{Notifier: rec})
	tr.Close()

	tk := tr.Submit(Request{DeviceID: "d1"})
	assert.ErrorIs(t, tk.Err(), fault.ErrCancelled)
	assert.Len(t, rec.all(), 1)
}

func TestConcurrentResolve(t *testing.T) {
	rec := &recorder{}
	tr := NewTracker(Options{Notifier: rec, Timeout: time.Minute})
	tk := tr.Submit(Request{DeviceID: "d1"})

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- tr.Resolve(tk.ID, nil)
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Len(t, rec.all(), 1)
}
