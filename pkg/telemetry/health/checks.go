package health

import (
	"context"
	"errors"
)

// Pinger is implemented by storage backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageCheck reports whether the statistics backend is reachable.
func StorageCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// SchedulerCheck reports whether every drain scheduler is running. running
// returns nil when all are, or an error naming the stopped ones.
func SchedulerCheck(running func() error) CheckFunc {
	return func(context.Context) error {
		return running()
	}
}

// ErrShuttingDown is reported once shutdown has begun.
var ErrShuttingDown = errors.New("shutting down")

// ShutdownCheck fails once draining reports true, so load balancers stop
// routing new requests while queued ones finish.
func ShutdownCheck(draining func() bool) CheckFunc {
	return func(context.Context) error {
		if draining() {
			return ErrShuttingDown
		}
		return nil
	}
}
