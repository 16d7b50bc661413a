package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimerReuse(t *testing.T) {
	timer := GetTimer(time.Millisecond)
	<-timer.C
	ReleaseTimer(timer)

	timer = GetTimer(time.Hour)
	defer ReleaseTimer(timer)
	select {
	case <-timer.C:
		t.Fatal("reused timer fired early")
	default:
	}
}

func TestGetBuf(t *testing.T) {
	b := GetBuf(16)
	assert.Zero(t, len(*b))
	assert.GreaterOrEqual(t, cap(*b), 16)
	*b = append(*b, 1, 2, 3)
	ReleaseBuf(b)

	b = GetBuf(4096)
	assert.Zero(t, len(*b))
	assert.GreaterOrEqual(t, cap(*b), 4096)
	ReleaseBuf(b)
}
