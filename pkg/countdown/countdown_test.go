package countdown_test

import (
	"testing"
	"time"

	"github.com/avaneesh92/cfdp-go/pkg/countdown"
	"github.com/stretchr/testify/assert"
)

func TestWallClockTimerExpiresAfterInterval(t *testing.T) {
	factory := countdown.NewWallClockFactory()
	timer := factory(time.Second)

	start := time.Unix(100, 0)
	timer.Reset(start)

	assert.False(t, timer.HasExpired(start.Add(500*time.Millisecond)))
	assert.True(t, timer.HasExpired(start.Add(time.Second)))
}

func TestStopDisarmsTimer(t *testing.T) {
	factory := countdown.NewWallClockFactory()
	timer := factory(time.Millisecond)

	start := time.Unix(0, 0)
	timer.Reset(start)
	timer.Stop()

	assert.False(t, timer.HasExpired(start.Add(time.Hour)))
}

func TestNeverArmedTimerNeverExpires(t *testing.T) {
	factory := countdown.NewWallClockFactory()
	timer := factory(time.Second)
	assert.False(t, timer.HasExpired(time.Unix(0, 0).Add(24*time.Hour)))
}
