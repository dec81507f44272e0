package xcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Interrupted is returned by WaitInterrupted when a signal arrives.
type Interrupted struct {
	os.Signal
}

func (m Interrupted) Error() string {
	return m.String()
}

// WaitInterrupted blocks until either SIGINT or SIGTERM signal is received or
// the provided context is canceled.
func WaitInterrupted(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)

	select {
	case v := <-ch:
		return Interrupted{Signal: v}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleSignals calls fn for every delivery of the given signals until the
// context is canceled. Unlike WaitInterrupted it keeps going after a signal,
// which suits reload requests such as SIGHUP.
func HandleSignals(ctx context.Context, fn func(os.Signal), signals ...os.Signal) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)

	return dispatchSignals(ctx, ch, fn)
}

func dispatchSignals(ctx context.Context, ch <-chan os.Signal, fn func(os.Signal)) error {
	for {
		select {
		case v := <-ch:
			fn(v)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
