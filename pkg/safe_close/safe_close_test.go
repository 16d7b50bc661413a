package safe_close

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeClose_CloseWait(t *testing.T) {
	sc := NewSafeClose()
	var exited atomic.Int32
	for i := 0; i < 3; i++ {
		sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			<-closeSignal
			exited.Add(1)
		})
	}
	sc.AttachContext(func(ctx context.Context) error {
		<-ctx.Done()
		exited.Add(1)
		return nil
	})

	go func() {
		<-sc.ReceiveCloseSignal()
		sc.Done()
	}()
	sc.CloseWait()
	assert.Equal(t, int32(4), exited.Load())
	assert.NoError(t, sc.Err())
	assert.ErrorIs(t, sc.Context().Err(), context.Canceled)
}

func TestSafeClose_FirstErrorWins(t *testing.T) {
	sc := NewSafeClose()
	errFirst := errors.New("first")
	sc.AttachContext(func(context.Context) error { return errFirst })

	select {
	case <-sc.ReceiveCloseSignal():
	case <-time.After(time.Second):
		t.Fatal("no close signal")
	}
	sc.SendCloseSignal(errors.New("second"))
	require.ErrorIs(t, sc.Err(), errFirst)

	ran := false
	sc.Attach(func(done func(), _ <-chan struct{}) {
		ran = true
		done()
	})
	assert.False(t, ran)
	sc.Done()
	sc.CloseWait()
}
