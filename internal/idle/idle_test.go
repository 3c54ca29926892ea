package idle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngine simulates the engine surface the monitor watches.
type fakeEngine struct {
	mu        sync.Mutex
	active    bool
	last      time.Time
	reminders int
	ensures   int
	remindErr error
}

func (f *fakeEngine) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeEngine) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeEngine) SendReminder(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remindErr != nil {
		return f.remindErr
	}
	f.reminders++
	f.last = time.Now()
	return nil
}

func (f *fakeEngine) EnsureOpen(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return nil
}

func (f *fakeEngine) reminderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reminders
}

func (f *fakeEngine) ensureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensures
}

func TestReminderFiresOnceAfterIdleTimeout(t *testing.T) {
	eng := &fakeEngine{active: true, last: time.Now().Add(-time.Second)}
	m := New(eng, Intervals{
		IdleTimeout: 100 * time.Millisecond,
		CheckAgent:  10 * time.Millisecond,
		EnsureChat:  time.Hour,
	})
	m.Start()
	defer m.Close()

	require.Eventually(t, func() bool { return eng.reminderCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	// The reminder refreshed the activity timestamp, so no second reminder
	// fires until a full idle period passes again.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, eng.reminderCount())
}

func TestNoReminderWithinIdleTimeout(t *testing.T) {
	eng := &fakeEngine{active: true, last: time.Now()}
	m := New(eng, Intervals{
		IdleTimeout: time.Hour,
		CheckAgent:  10 * time.Millisecond,
		EnsureChat:  time.Hour,
	})
	m.Start()
	defer m.Close()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 0, eng.reminderCount())
}

func TestNoReminderWhenInactive(t *testing.T) {
	eng := &fakeEngine{active: false, last: time.Now().Add(-time.Hour)}
	m := New(eng, Intervals{
		IdleTimeout: 10 * time.Millisecond,
		CheckAgent:  10 * time.Millisecond,
		EnsureChat:  time.Hour,
	})
	m.Start()
	defer m.Close()

	time.Sleep(80 * time.Millisecond)
	require.Equal(t, 0, eng.reminderCount())
}

func TestEnsureLoopReopensChat(t *testing.T) {
	eng := &fakeEngine{active: true, last: time.Now()}
	m := New(eng, Intervals{
		IdleTimeout: time.Hour,
		CheckAgent:  time.Hour,
		EnsureChat:  10 * time.Millisecond,
	})
	m.Start()
	defer m.Close()

	require.Eventually(t, func() bool { return eng.ensureCount() >= 2 },
		2*time.Second, 5*time.Millisecond)
}

func TestStartIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	m := New(eng, Intervals{IdleTimeout: time.Hour, CheckAgent: time.Hour, EnsureChat: time.Hour})
	m.Start()
	m.Start()
	m.Close()
}

func TestCloseWithoutStart(t *testing.T) {
	m := New(&fakeEngine{}, Intervals{IdleTimeout: time.Hour, CheckAgent: time.Hour, EnsureChat: time.Hour})
	m.Close()
}

func TestReconfigureRestartsTimers(t *testing.T) {
	eng := &fakeEngine{active: true, last: time.Now().Add(-time.Hour)}
	m := New(eng, Intervals{
		IdleTimeout: time.Hour,
		CheckAgent:  time.Hour,
		EnsureChat:  time.Hour,
	})
	m.Start()
	defer m.Close()

	// With the original intervals nothing fires; the new intervals make
	// the idle check hot.
	m.Reconfigure(Intervals{
		IdleTimeout: 10 * time.Millisecond,
		CheckAgent:  10 * time.Millisecond,
		EnsureChat:  time.Hour,
	})

	require.Eventually(t, func() bool { return eng.reminderCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
}

func TestReconfigureAndCloseConcurrently(t *testing.T) {
	quiet := Intervals{IdleTimeout: time.Hour, CheckAgent: time.Hour, EnsureChat: time.Hour}

	for i := 0; i < 500; i++ {
		eng := &fakeEngine{}
		m := New(eng, quiet)
		m.Start()

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			m.Reconfigure(quiet)
		}()
		go func() {
			defer wg.Done()
			m.Reconfigure(quiet)
		}()
		go func() {
			defer wg.Done()
			m.Close()
		}()
		wg.Wait()

		// Whatever the interleaving, a second Close must be a clean no-op
		// and the monitor must end up stopped.
		m.Close()
	}
}

func TestReconfigureWhileStopped(t *testing.T) {
	eng := &fakeEngine{active: true, last: time.Now().Add(-time.Hour)}
	m := New(eng, Intervals{IdleTimeout: time.Hour, CheckAgent: time.Hour, EnsureChat: time.Hour})

	m.Reconfigure(Intervals{
		IdleTimeout: 10 * time.Millisecond,
		CheckAgent:  10 * time.Millisecond,
		EnsureChat:  time.Hour,
	})

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, eng.reminderCount(), "stopped monitor must stay stopped")
}
