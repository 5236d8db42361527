package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeWake struct {
	at time.Time
	ok bool
}

func (f fakeWake) NextWake() (time.Time, bool) { return f.at, f.ok }

func TestCurrentTimeoutNoWakeSource(t *testing.T) {
	l := &Loop{}
	assert.Equal(t, time.Duration(-1), l.currentTimeout())
}

func TestCurrentTimeoutNothingScheduled(t *testing.T) {
	l := &Loop{wake: fakeWake{ok: false}}
	assert.Equal(t, time.Duration(-1), l.currentTimeout())
}

func TestCurrentTimeoutFuture(t *testing.T) {
	l := &Loop{wake: fakeWake{at: time.Now().Add(5 * time.Second), ok: true}}
	d := l.currentTimeout()
	assert.Greater(t, d, 4*time.Second)
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestCurrentTimeoutPastIsZero(t *testing.T) {
	l := &Loop{wake: fakeWake{at: time.Now().Add(-time.Second), ok: true}}
	assert.Equal(t, time.Duration(0), l.currentTimeout())
}

