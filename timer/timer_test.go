package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerManager_FireRunsDueInOrder(t *testing.T) {
	m := NewTimerManager(time.Hour)
	defer m.Stop()

	base := time.Now().Add(time.Hour)
	var order []string
	m.Schedule("b", base.Add(2*time.Second), func() { order = append(order, "b") })
	m.Schedule("a", base.Add(1*time.Second), func() { order = append(order, "a") })
	m.Schedule("c", base.Add(10*time.Second), func() { order = append(order, "c") })

	n := m.Fire(base.Add(5 * time.Second))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, m.Pending("c"))
	assert.Equal(t, 1, m.Len())
}

func TestTimerManager_CancelPreventsFire(t *testing.T) {
	m := NewTimerManager(time.Hour)
	defer m.Stop()

	at := time.Now().Add(time.Hour)
	fired := false
	m.Schedule("game:1", at, func() { fired = true })

	assert.True(t, m.Cancel("game:1"))
	assert.False(t, m.Cancel("game:1"))
	assert.Equal(t, 0, m.Fire(at.Add(time.Second)))
	assert.False(t, fired)
}

func TestTimerManager_RescheduleReplaces(t *testing.T) {
	m := NewTimerManager(time.Hour)
	defer m.Stop()

	at := time.Now().Add(time.Hour)
	var first, second int
	m.Schedule("game:1", at, func() { first++ })
	m.Schedule("game:1", at.Add(time.Minute), func() { second++ })

	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 0, m.Fire(at))
	assert.Equal(t, 1, m.Fire(at.Add(time.Minute)))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestTimerManager_BackgroundLoop(t *testing.T) {
	m := NewTimerManager(5 * time.Millisecond)
	defer m.Stop()

	var fired atomic.Int32
	m.Schedule("soon", time.Now().Add(10*time.Millisecond), func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Pending("soon"))
}

func TestTimerManager_StopIsIdempotent(t *testing.T) {
	m := NewTimerManager(time.Millisecond)
	m.Stop()
	m.Stop()
}
