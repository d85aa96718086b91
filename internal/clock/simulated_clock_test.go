package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)

func TestSimulatedClockNowStartsAtConstruction(t *testing.T) {
	sc := NewSimulatedClock(epoch)
	assert.True(t, sc.Now().Equal(epoch))
}

func TestSimulatedClockSetTimeOverwrites(t *testing.T) {
	sc := NewSimulatedClock(epoch)

	sc.SetTime(epoch.Add(-time.Hour))
	assert.True(t, sc.Now().Equal(epoch.Add(-time.Hour)))

	sc.SetTime(epoch)
	assert.True(t, sc.Now().Equal(epoch))
}

func TestSimulatedClockAdvanceTimeAddsDuration(t *testing.T) {
	sc := NewSimulatedClock(epoch)

	sc.AdvanceTime(5 * time.Minute)
	assert.True(t, sc.Now().Equal(epoch.Add(5*time.Minute)))

	sc.AdvanceTime(-2 * time.Hour)
	assert.True(t, sc.Now().Equal(epoch.Add(5*time.Minute-2*time.Hour)))
}

func TestSimulatedClockAfterFiresImmediatelyForNonPositiveDuration(t *testing.T) {
	sc := NewSimulatedClock(epoch)

	for _, d := range []time.Duration{0, -5 * time.Second} {
		ch := sc.After(d)
		select {
		case got := <-ch:
			assert.True(t, got.Equal(epoch))
		case <-time.After(50 * time.Millisecond):
			t.Fatalf("After(%v) did not fire immediately", d)
		}
	}
}

func TestSimulatedClockAfterFiresOnceDeadlinePasses(t *testing.T) {
	sc := NewSimulatedClock(epoch)
	ch := sc.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before the clock advanced")
	case <-time.After(10 * time.Millisecond):
	}

	sc.AdvanceTime(15 * time.Second)

	select {
	case got := <-ch:
		assert.True(t, got.Equal(epoch.Add(15*time.Second)))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("After did not fire once the deadline passed")
	}
}

func TestSimulatedClockAfterFiresWhenSetTimePassesDeadline(t *testing.T) {
	sc := NewSimulatedClock(epoch)
	ch := sc.After(10 * time.Second)

	sc.SetTime(epoch.Add(15 * time.Second))

	select {
	case got := <-ch:
		assert.True(t, got.Equal(epoch.Add(15*time.Second)))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("After did not fire once SetTime passed the deadline")
	}
}

func TestSimulatedClockAfterDoesNotFireBeforeDeadline(t *testing.T) {
	sc := NewSimulatedClock(epoch)
	ch := sc.After(10 * time.Second)

	sc.AdvanceTime(5 * time.Second)

	select {
	case got := <-ch:
		t.Fatalf("After fired early with %v", got)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSimulatedClockAfterServesMultipleWaitersIndependently(t *testing.T) {
	sc := NewSimulatedClock(epoch)

	short := sc.After(5 * time.Second)
	long := sc.After(20 * time.Second)
	require.NotNil(t, short)
	require.NotNil(t, long)

	sc.AdvanceTime(10 * time.Second)

	select {
	case got := <-short:
		assert.True(t, got.Equal(epoch.Add(10*time.Second)))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("short waiter did not fire")
	}

	select {
	case <-long:
		t.Fatal("long waiter fired early")
	case <-time.After(10 * time.Millisecond):
	}

	sc.AdvanceTime(15 * time.Second)
	select {
	case got := <-long:
		assert.True(t, got.Equal(epoch.Add(25*time.Second)))
	case <-time.After(50 * time.Millisecond):
		t.Fatal("long waiter did not fire after the second advance")
	}
}
