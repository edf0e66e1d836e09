package srv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func TestShutdownServices_ReverseOrder(t *testing.T) {
	rec := &recorder{}
	services := []Service{
		NewCleanup(func() error { rec.add("first"); return nil }),
		NewFunc(nil, func(ctx context.Context) error { rec.add("second"); return nil }),
		NewCleanup(func() error { rec.add("third"); return errors.New("ignored") }),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ShutdownServices(ctx, context.Background(), services)

	assert.Equal(t, []string{"third", "second", "first"}, rec.calls)
}

func TestStartServices_ReportsFailure(t *testing.T) {
	boom := errors.New("boom")
	failed := make(chan error, 1)

	services := []Service{
		NewFunc(func(ctx context.Context) error { return boom }, nil),
		NewFunc(func(ctx context.Context) error { return context.Canceled }, nil),
	}
	StartServices(context.Background(), services, func(err error) { failed <- err })

	assert.ErrorIs(t, <-failed, boom)
}
