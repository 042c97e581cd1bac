package imap

import (
	"context"
	"time"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
)

type waitOutcome int

const (
	// waitSync asks the supervisor to look for new messages.
	waitSync waitOutcome = iota
	// waitRefresh asks for the connection to be recycled.
	waitRefresh
)

const (
	ModeIdle = "idle"
	ModePoll = "poll"
)

// changeWaiter blocks between two sync runs. It is chosen once per
// connection from the server's capabilities.
type changeWaiter interface {
	mode() string
	state() enum.ConnectionState
	wait(ctx context.Context, conn interfaces.MailConnection, wake <-chan struct{}) (waitOutcome, error)
}

func chooseWaiter(conn interfaces.MailConnection, pollInterval, idleDwell time.Duration) changeWaiter {
	if conn.SupportsIdle() {
		return &idleWaiter{dwell: idleDwell}
	}
	return &pollWaiter{interval: pollInterval}
}

// idleWaiter relies on server push. After dwell without news it asks for a
// refresh so no server side idle timeout is ever hit.
type idleWaiter struct {
	dwell time.Duration
}

func (w *idleWaiter) mode() string { return ModeIdle }

func (w *idleWaiter) state() enum.ConnectionState { return enum.ConnectionListening }

func (w *idleWaiter) wait(ctx context.Context, conn interfaces.MailConnection, wake <-chan struct{}) (waitOutcome, error) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	woke := make(chan struct{})
	stopWatch := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-wake:
			close(woke)
			cancel()
		case <-stopWatch:
		}
	}()

	changed, err := conn.WaitForChange(waitCtx, w.dwell)
	close(stopWatch)
	<-watcherDone

	select {
	case <-woke:
		return waitSync, nil
	default:
	}
	if ctx.Err() != nil {
		return waitSync, ctx.Err()
	}
	if err != nil {
		return waitSync, err
	}
	if changed {
		return waitSync, nil
	}
	return waitRefresh, nil
}

// pollWaiter re-lists the folder on a fixed interval.
type pollWaiter struct {
	interval time.Duration
}

func (w *pollWaiter) mode() string { return ModePoll }

func (w *pollWaiter) state() enum.ConnectionState { return enum.ConnectionPolling }

func (w *pollWaiter) wait(ctx context.Context, conn interfaces.MailConnection, wake <-chan struct{}) (waitOutcome, error) {
	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		// doubles as a health check and lets the server flush pending updates
		if err := conn.Noop(ctx); err != nil {
			return waitSync, err
		}
		return waitSync, nil
	case <-wake:
		return waitSync, nil
	case <-ctx.Done():
		return waitSync, ctx.Err()
	}
}
