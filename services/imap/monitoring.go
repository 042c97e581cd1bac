package imap

import (
	"context"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/tracing"
)

var errAccountGone = errors.New("account removed or deactivated")

// errRefresh ends a session cleanly so the connection gets recycled.
var errRefresh = errors.New("connection refresh")

const statusWriteTimeout = 10 * time.Second

// run owns the connection lifecycle of one account until ctx is cancelled
// or the account reaches a terminal error.
func (s *SyncSupervisor) run(ctx context.Context, entry *connectionEntry) {
	defer s.wg.Done()
	defer s.forget(entry)
	defer close(entry.done)

	log := s.log.With("accountId", entry.accountID)
	failures := 0

	for {
		err := s.safeSession(ctx, entry)

		switch {
		case ctx.Err() != nil:
			s.transition(entry, enum.ConnectionDisconnected, nil)
			log.Info("Account supervisor stopped")
			return

		case errors.Is(err, errRefresh):
			failures = 0
			continue

		case errors.Is(err, errAccountGone):
			s.transition(entry, enum.ConnectionDisconnected, nil)
			log.Info("Account is gone, stopping supervisor")
			return

		case mperrors.IsAuthentication(err):
			log.Errorf("Authentication failed, giving up: %v", err)
			s.fail(entry, err)
			return
		}

		// a session that reached the connected state cleared Retries
		if entry.snapshot().Retries == 0 {
			failures = 0
		}
		failures++
		entry.update(func(status *dto.AccountSyncStatus) {
			status.Retries = failures
		})
		if failures > s.cfg.MaxRetries {
			log.Errorf("Giving up after %d consecutive failures: %v", failures, err)
			s.fail(entry, err)
			return
		}

		log.Warnf("Connection lost (attempt %d/%d): %v", failures, s.cfg.MaxRetries, err)
		s.transition(entry, enum.ConnectionDisconnected, err)
		s.publishConnection(entry, enum.EventDisconnected, err)

		if !sleepCtx(ctx, s.cfg.RetryBackoff) {
			s.transition(entry, enum.ConnectionDisconnected, nil)
			return
		}
	}
}

// safeSession turns a panic inside a session into a transport failure so a
// single account can never take the process down.
func (s *SyncSupervisor) safeSession(ctx context.Context, entry *connectionEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			tracing.LogPanicToJaeger(s.log, r)
			err = mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("panic in session: %v", r))
		}
	}()
	return s.session(ctx, entry)
}

// session is one connection from dial to close.
func (s *SyncSupervisor) session(ctx context.Context, entry *connectionEntry) error {
	s.transition(entry, enum.ConnectionConnecting, nil)

	account, err := s.deps.Accounts.GetAccount(ctx, entry.accountID)
	if err != nil {
		return mperrors.Classify(mperrors.ErrTransport, errors.Wrap(err, "failed to load account"))
	}
	if account == nil || !account.Active {
		return errAccountGone
	}

	span, spanCtx := opentracing.StartSpanFromContext(ctx, "SyncSupervisor.connect")
	tracing.TagComponentSupervisor(span)
	tracing.TagAccount(span, account.ID)
	dialCtx, cancel := context.WithTimeout(spanCtx, s.cfg.ConnectTimeout)
	conn, err := s.deps.Dialer.Dial(dialCtx, account)
	cancel()
	if err != nil {
		tracing.TraceErr(span, err)
		span.Finish()
		return err
	}
	defer conn.Close()

	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	mailbox, err := conn.Select(spanCtx, folder)
	if err != nil {
		tracing.TraceErr(span, err)
		span.Finish()
		return err
	}
	span.Finish()

	waiter := chooseWaiter(conn, s.cfg.PollInterval, s.cfg.IdleDwell)
	connectedAt := s.now()
	entry.update(func(status *dto.AccountSyncStatus) {
		status.Mode = waiter.mode()
		status.Folder = folder
		status.ConnectedAt = &connectedAt
		status.Retries = 0
	})
	s.transition(entry, waiter.state(), nil)
	s.publishConnection(entry, enum.EventConnected, nil)

	cursor := s.loadCursor(ctx, entry.accountID, mailbox)

	for {
		if err := s.syncOnce(ctx, entry, conn, mailbox, cursor); err != nil {
			return err
		}

		outcome, err := waiter.wait(ctx, conn, entry.gate.wake)
		if err != nil {
			return err
		}
		if outcome == waitRefresh {
			s.transition(entry, enum.ConnectionRefreshing, nil)
			return errRefresh
		}
	}
}

// transition moves the entry to a new state, mirrors it to the registry and
// notifies the observer. Repeated states are not reported twice.
func (s *SyncSupervisor) transition(entry *connectionEntry, to enum.ConnectionState, cause error) {
	var from enum.ConnectionState
	errorMessage := ""
	if cause != nil {
		errorMessage = cause.Error()
	}
	entry.update(func(status *dto.AccountSyncStatus) {
		from = status.State
		status.State = to
		if cause != nil {
			now := s.now()
			status.LastError = errorMessage
			status.LastErrorAt = &now
		}
	})
	if from == to {
		return
	}

	if s.observer != nil {
		s.observer(entry.accountID, from, to)
	}

	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := s.deps.Accounts.UpdateConnectionStatus(ctx, entry.accountID, to, errorMessage); err != nil {
		s.log.Warnf("Failed to record connection status %s for account %s: %v", to, entry.accountID, err)
	}
}

// fail reports the terminal error and leaves the entry disconnected. The
// cause stays on the status and in the registry.
func (s *SyncSupervisor) fail(entry *connectionEntry, cause error) {
	s.transition(entry, enum.ConnectionError, cause)
	s.publishConnection(entry, enum.EventError, cause)
	s.transition(entry, enum.ConnectionDisconnected, cause)
}

func (s *SyncSupervisor) publishConnection(entry *connectionEntry, eventType enum.EventType, cause error) {
	if s.deps.Events == nil {
		return
	}
	status := entry.snapshot()
	data := dto.ConnectionEventData{State: status.State, Mode: status.Mode}
	if cause != nil {
		data.Error = cause.Error()
	}
	s.deps.Events.Publish(context.Background(), dto.DomainEvent{
		Type:      eventType,
		AccountID: entry.accountID,
		Data:      data,
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
