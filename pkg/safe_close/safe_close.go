// Package safe_close coordinates the shutdown of a long running process and
// the goroutines it owns.
package safe_close

import (
	"context"
	"sync"
)

// SafeClose lets CloseWait return only after every owned goroutine exited.
//
//  1. The main goroutine waits on ReceiveCloseSignal and calls Done before it returns.
//  2. Owned goroutines are started by Attach or AttachContext and stop on the close signal.
//  3. Any owned goroutine may call SendCloseSignal on a fatal error. It must not call
//     CloseWait, which would deadlock.
//  4. Any other caller may call CloseWait to shut everything down.
type SafeClose struct {
	m           sync.Mutex
	wg          sync.WaitGroup
	closeSignal chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	closeErr    error

	ctx    context.Context
	cancel context.CancelFunc
}

func NewSafeClose() *SafeClose {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafeClose{
		closeSignal: make(chan struct{}),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// CloseWait sends a close signal and waits until Done was called and every
// attached goroutine returned. It is safe to call it many times.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.wg.Wait()
	<-s.done
}

// SendCloseSignal sends the close signal. Only the first non-nil err is
// kept.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()

	select {
	case <-s.closeSignal:
		if err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		return
	default:
		if err != nil {
			s.closeErr = err
		}
		close(s.closeSignal)
		s.cancel()
	}
}

// Err returns the error the close signal was sent with.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Context is canceled by the close signal.
func (s *SafeClose) Context() context.Context {
	return s.ctx
}

// Attach runs f in a new goroutine that CloseWait waits for. f must return
// after closeSignal is closed and call done when it returns. If the signal
// was already sent, f does not run.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.m.Lock()
	select {
	case <-s.closeSignal:
		s.m.Unlock()
		return
	default:
		s.wg.Add(1)
	}
	s.m.Unlock()

	go func() {
		f(s.wg.Done, s.closeSignal)
	}()
}

// AttachContext is Attach for functions driven by a context. A non-nil
// error from f sends the close signal.
func (s *SafeClose) AttachContext(f func(ctx context.Context) error) {
	s.Attach(func(done func(), _ <-chan struct{}) {
		defer done()
		if err := f(s.ctx); err != nil {
			s.SendCloseSignal(err)
		}
	})
}

// Done notifies CloseWait that the main goroutine returned. It is safe to
// call it many times.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
