package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeClock_StartsFrozen(t *testing.T) {
	clock := NewFakeClock(epoch)
	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(epoch)

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestFakeClock_SetNormalizesToUTC(t *testing.T) {
	clock := NewFakeClock(epoch)
	loc := time.FixedZone("UTC+2", 2*60*60)

	clock.Set(time.Date(2026, 3, 2, 12, 0, 0, 0, loc))
	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.Equal(t, 10, clock.Now().Hour())
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(epoch)
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(numGoroutines*time.Second), clock.Now())
}
