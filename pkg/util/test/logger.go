package test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kit/log"
)

var _ log.Logger = (*TestingLogger)(nil)

// TestingLogger routes go-kit log lines to testing.TB and goes quiet once
// the test finishes, so goroutines still shutting down cannot log to a dead
// testing.T.
type TestingLogger struct {
	t    testing.TB
	mtx  *sync.Mutex
	done atomic.Bool
}

func NewTestingLogger(t testing.TB) *TestingLogger {
	logger := &TestingLogger{
		t:   t,
		mtx: &sync.Mutex{},
	}
	t.Cleanup(func() {
		logger.done.Store(true)
	})
	return logger
}

func (l *TestingLogger) Log(keyvals ...interface{}) error {
	if l.done.Load() {
		return nil
	}

	keyvals = append([]interface{}{time.Now().String()}, keyvals...)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if l.done.Load() {
		return nil
	}

	l.t.Log(keyvals...)
	return nil
}
