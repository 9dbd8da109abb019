package dues

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLocker_TryLockBusy(t *testing.T) {
	k := NewKeyedLocker()

	unlock := k.Lock("due-1")
	_, ok := k.TryLock("due-1")
	assert.False(t, ok, "held key must not be acquired")

	other, ok := k.TryLock("due-2")
	require.True(t, ok, "different keys are independent")
	other()

	unlock()
	again, ok := k.TryLock("due-1")
	require.True(t, ok)
	again()

	assert.Zero(t, k.size(), "entries are released when unused")
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	k := NewKeyedLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("due-1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())
}

func TestKeyedLocker_UnlockIsIdempotent(t *testing.T) {
	k := NewKeyedLocker()
	unlock := k.Lock("due-1")
	unlock()
	assert.NotPanics(t, unlock)
	assert.Zero(t, k.size())
}
