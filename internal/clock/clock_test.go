package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestControlled_SetAndNow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewControlled(start)
	assert.True(t, c.Now().Equal(start))

	next := start.Add(time.Minute)
	c.Set(next)
	assert.True(t, c.Now().Equal(next))
}

func TestControlled_ConcurrentReadsDontRace(t *testing.T) {
	c := NewControlled(time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Now()
		}()
	}
	c.Set(time.Now().Add(time.Hour))
	wg.Wait()
}

func TestReal_NowIsCloseToWallClock(t *testing.T) {
	r := Real{}
	assert.WithinDuration(t, time.Now(), r.Now(), time.Second)
}
