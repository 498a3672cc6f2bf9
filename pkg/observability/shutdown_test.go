package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{"custom timeout", 10 * time.Second, 10 * time.Second},
		{"zero timeout uses default", 0, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, tt.timeout)
			assert.Equal(t, tt.expectedTimeout, sm.shutdownTimeout)
			assert.Empty(t, sm.shutdownFuncs)
		})
	}
}

func TestRegisterShutdownFunc_IgnoresNil(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, time.Second)
	sm.RegisterShutdownFunc(nil)
	sm.RegisterShutdownFunc(func(context.Context) error { return nil })
	assert.Len(t, sm.shutdownFuncs, 1)
}

func TestShutdown_RunsAllFunctions(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCount int
	}{
		{"all succeed", []error{nil, nil}, 0},
		{"one fails", []error{errors.New("redis close"), nil}, 1},
		{"all fail", []error{errors.New("a"), errors.New("b"), errors.New("c")}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, 5*time.Second)

			var calls int32
			for _, e := range tt.errs {
				e := e
				sm.RegisterShutdownFunc(func(context.Context) error {
					atomic.AddInt32(&calls, 1)
					return e
				})
			}

			err := sm.Shutdown(context.Background())
			assert.Equal(t, int32(len(tt.errs)), atomic.LoadInt32(&calls))

			if tt.wantCount == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "shutdown completed with"))
			for _, e := range tt.errs {
				if e != nil {
					assert.ErrorIs(t, err, e)
				}
			}
		})
	}
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_DrainsServer(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Start()
	defer server.Close()

	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), server.Config, time.Second)

	var closed int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.StoreInt32(&closed, 1)
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestWaitForShutdown_ContextCancel(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, io.Discard), nil, time.Second)

	var called int32
	sm.RegisterShutdownFunc(func(context.Context) error {
		atomic.StoreInt32(&called, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.WaitForShutdown(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&called))
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return after context cancel")
	}
}
