package srv

import "context"

type cleanupService struct {
	cleanup func() error
}

func (c *cleanupService) Start(ctx context.Context) error {
	return nil
}

func (c *cleanupService) Shutdown(ctx context.Context) error {
	if c.cleanup != nil {
		return c.cleanup()
	}
	return nil
}

// NewCleanup wraps a close func so it runs with the other shutdowns.
func NewCleanup(fn func() error) Service {
	return &cleanupService{cleanup: fn}
}

type funcService struct {
	start    func(ctx context.Context) error
	shutdown func(ctx context.Context) error
}

func (f *funcService) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *funcService) Shutdown(ctx context.Context) error {
	if f.shutdown == nil {
		return nil
	}
	return f.shutdown(ctx)
}

// NewFunc adapts a pair of funcs to Service. Either may be nil.
func NewFunc(start, shutdown func(ctx context.Context) error) Service {
	return &funcService{start: start, shutdown: shutdown}
}
