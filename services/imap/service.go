package imap

import (
	"context"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type Dependencies struct {
	Accounts   interfaces.AccountRepository
	SyncStates interfaces.SyncStateRepository
	Dialer     interfaces.MailDialer
	Pipeline   interfaces.IngestionPipeline
	Events     interfaces.EventPublisher
}

// TransitionObserver is told about every connection state change.
type TransitionObserver func(accountID string, from, to enum.ConnectionState)

// connectionEntry is the supervisor's record for one account. The entry
// outlives a terminal error so its status stays visible until the account
// is removed. A removed entry stays in the table, marked stopping, until
// its goroutine has exited.
type connectionEntry struct {
	accountID string
	cancel    context.CancelFunc
	done      chan struct{}
	gate      *syncGate
	// stopping is guarded by SyncSupervisor.mu.
	stopping bool

	mu     sync.RWMutex
	status dto.AccountSyncStatus
}

func (e *connectionEntry) ended() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// SyncSupervisor runs one goroutine per active account, each owning at most
// one live mail connection.
type SyncSupervisor struct {
	cfg      *config.SyncConfig
	log      logger.Logger
	deps     Dependencies
	observer TransitionObserver
	now      func() time.Time

	mu      sync.Mutex
	table   map[string]*connectionEntry
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewSyncSupervisor(cfg *config.SyncConfig, log logger.Logger, deps Dependencies) *SyncSupervisor {
	return &SyncSupervisor{
		cfg:   cfg,
		log:   log,
		deps:  deps,
		now:   time.Now,
		table: make(map[string]*connectionEntry),
	}
}

var _ interfaces.SyncSupervisor = (*SyncSupervisor)(nil)

// SetTransitionObserver must be called before Start.
func (s *SyncSupervisor) SetTransitionObserver(observer TransitionObserver) {
	s.observer = observer
}

// Start launches a supervisor for every active account in the registry.
func (s *SyncSupervisor) Start(ctx context.Context) error {
	span, ctx := tracing.StartTracerSpan(ctx, "SyncSupervisor.Start")
	defer span.Finish()
	tracing.TagComponentSupervisor(span)

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.mu.Unlock()

	accounts, err := s.deps.Accounts.ListActiveAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to list active accounts")
	}
	span.LogKV("accounts", len(accounts))

	for _, account := range accounts {
		if err := s.launch(account.ID, account.Folder); err != nil {
			s.log.Warnf("Account %s not started: %v", account.ID, err)
		}
	}
	s.log.Infof("Sync supervisor started with %d accounts", len(accounts))
	return nil
}

// Stop cancels every account and waits for them to wind down, bounded by
// the shutdown timeout.
func (s *SyncSupervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
		s.log.Info("All account supervisors stopped")
	case <-time.After(timeout):
		s.log.Warn("Timeout waiting for account supervisors to stop")
	}

	// entries whose goroutine is still alive keep their slot so a restart
	// cannot open a second connection for the same account
	s.mu.Lock()
	for id, entry := range s.table {
		if entry.ended() {
			delete(s.table, id)
		} else {
			entry.stopping = true
		}
	}
	s.mu.Unlock()
	return nil
}

// AddAccount starts supervising an active account. Adding an account that
// is already supervised is a no-op; one that ended in error is restarted.
func (s *SyncSupervisor) AddAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncSupervisor.AddAccount")
	defer span.Finish()
	tracing.TagComponentSupervisor(span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return mperrors.ErrSupervisorStopped
	}

	account, err := s.deps.Accounts.GetAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return mperrors.ErrAccountNotFound
	}
	if !account.Active {
		return mperrors.ErrAccountInactive
	}

	return s.launch(account.ID, account.Folder)
}

// launch fails with ErrSupervisorStopped when the supervisor is not running
// and with ErrAccountStopping while a removed supervisor of the account is
// still winding down.
func (s *SyncSupervisor) launch(accountID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return mperrors.ErrSupervisorStopped
	}
	if existing, ok := s.table[accountID]; ok && !existing.ended() {
		if existing.stopping {
			return mperrors.ErrAccountStopping
		}
		return nil
	}

	ctx, cancel := context.WithCancel(utils.SetAccountIdInContext(s.ctx, accountID))
	entry := &connectionEntry{
		accountID: accountID,
		cancel:    cancel,
		done:      make(chan struct{}),
		gate:      newSyncGate(),
		status: dto.AccountSyncStatus{
			AccountID: accountID,
			State:     enum.ConnectionDisconnected,
			Folder:    folder,
		},
	}
	s.table[accountID] = entry

	s.wg.Add(1)
	go s.run(ctx, entry)
	return nil
}

// RemoveAccount cancels the account's supervisor and waits for it to leave
// its current wait, or for ctx to end. When ctx ends first the entry stays
// in the table as stopping and is dropped by its goroutine on exit.
func (s *SyncSupervisor) RemoveAccount(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncSupervisor.RemoveAccount")
	defer span.Finish()
	tracing.TagComponentSupervisor(span)
	tracing.TagAccount(span, accountID)

	s.mu.Lock()
	entry, ok := s.table[accountID]
	if ok {
		entry.stopping = true
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	entry.cancel()
	select {
	case <-entry.done:
		s.forget(entry)
		return nil
	case <-ctx.Done():
		err := errors.Wrapf(ctx.Err(), "account %s still shutting down", accountID)
		tracing.TraceErr(span, err)
		return err
	}
}

// forget drops a stopping entry from the table unless it was replaced.
func (s *SyncSupervisor) forget(entry *connectionEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.table[entry.accountID]; ok && current == entry && entry.stopping {
		delete(s.table, entry.accountID)
	}
}

// RequestSync asks for a sync run without waiting for it. Requests made
// while a run is in flight collapse into a single follow-up run.
func (s *SyncSupervisor) RequestSync(accountID string) (dto.SyncRequestOutcome, error) {
	s.mu.Lock()
	entry, ok := s.table[accountID]
	stopping := ok && entry.stopping
	s.mu.Unlock()

	if !ok {
		return "", mperrors.ErrAccountNotFound
	}
	if stopping || entry.ended() {
		return "", mperrors.ErrSupervisorStopped
	}
	return entry.gate.trigger(), nil
}

func (s *SyncSupervisor) Status() map[string]dto.AccountSyncStatus {
	s.mu.Lock()
	entries := make([]*connectionEntry, 0, len(s.table))
	for _, entry := range s.table {
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	result := make(map[string]dto.AccountSyncStatus, len(entries))
	for _, entry := range entries {
		result[entry.accountID] = entry.snapshot()
	}
	return result
}

func (s *SyncSupervisor) AccountStatus(accountID string) (dto.AccountSyncStatus, bool) {
	s.mu.Lock()
	entry, ok := s.table[accountID]
	s.mu.Unlock()
	if !ok {
		return dto.AccountSyncStatus{}, false
	}
	return entry.snapshot(), true
}

func (e *connectionEntry) snapshot() dto.AccountSyncStatus {
	e.mu.RLock()
	status := e.status
	e.mu.RUnlock()

	status.SyncRunning, status.SyncPending, status.SyncRunCount = e.gate.snapshot()
	return status
}

func (e *connectionEntry) update(fn func(status *dto.AccountSyncStatus)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.status)
}

func (e *connectionEntry) state() enum.ConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status.State
}
