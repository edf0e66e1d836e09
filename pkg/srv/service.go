package srv

import (
	"context"
	"errors"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// StartServices launches every service in its own goroutine. A start
// error other than context cancellation is reported through fail.
func StartServices(ctx context.Context, services []Service, fail func(error)) {
	logger := log.FromCtx(ctx)
	for _, service := range services {
		go func(service Service) {
			err := service.Start(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			logger.Error().Err(err).Msgf("%T failed to start", service)
			if fail != nil {
				fail(err)
			}
		}(service)
	}
}

// ShutdownServices waits for ctx to end, then shuts services down in
// reverse start order.
func ShutdownServices(ctx context.Context, shutdownCtx context.Context, services []Service) {
	<-ctx.Done()
	logger := log.FromCtx(ctx)
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msgf("%T failed to shutdown", services[i])
		}
	}
}
