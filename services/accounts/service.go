package accounts

import (
	"context"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

type Dependencies struct {
	Accounts   interfaces.AccountRepository
	SyncStates interfaces.SyncStateRepository
	Index      interfaces.EmailIndex
	Supervisor interfaces.SyncSupervisor
	// Archive is optional.
	Archive interfaces.StorageService
}

// AccountService keeps the account registry and the running supervisors in
// agreement.
type AccountService struct {
	log  logger.Logger
	deps Dependencies
}

func NewAccountService(log logger.Logger, deps Dependencies) *AccountService {
	return &AccountService{log: log, deps: deps}
}

func (s *AccountService) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.ListAccounts")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	return s.deps.Accounts.ListAccounts(ctx)
}

func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.GetAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, id)

	account, err := s.deps.Accounts.GetAccount(ctx, id)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil {
		return nil, mperrors.ErrAccountNotFound
	}
	return account, nil
}

func (s *AccountService) CreateAccount(ctx context.Context, request dto.CreateAccountRequest) (*models.Account, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.CreateAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	account, err := newAccount(request)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if err := s.deps.Accounts.CreateAccount(ctx, account); err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	tracing.TagAccount(span, account.ID)
	s.log.Infof("[%s] account created for %s", account.ID, account.EmailAddress)

	if account.Active {
		if err := s.deps.Supervisor.AddAccount(ctx, account.ID); err != nil {
			// the account exists; the reconcile job will pick it up
			s.log.Warnf("[%s] failed to start supervisor: %v", account.ID, err)
		}
	}
	return account, nil
}

func newAccount(request dto.CreateAccountRequest) (*models.Account, error) {
	validation := mailvalidate.ValidateEmailSyntax(request.EmailAddress)
	if !validation.IsValid {
		return nil, errors.Wrapf(mperrors.ErrInvalidAccount, "invalid email address %q", request.EmailAddress)
	}
	if strings.TrimSpace(request.ImapServer) == "" {
		return nil, errors.Wrap(mperrors.ErrInvalidAccount, "imap server is required")
	}
	if request.ImapPassword == "" {
		return nil, errors.Wrap(mperrors.ErrInvalidAccount, "imap password is required")
	}

	security := request.ImapSecurity
	switch security {
	case "":
		security = enum.ImapSecurityTLS
	case enum.ImapSecurityTLS, enum.ImapSecurityStartTLS, enum.ImapSecurityNone:
	default:
		return nil, errors.Wrapf(mperrors.ErrInvalidAccount, "unknown imap security %q", security)
	}

	port := request.ImapPort
	if port == 0 {
		port = defaultPort(security)
	}
	if port < 1 || port > 65535 {
		return nil, errors.Wrapf(mperrors.ErrInvalidAccount, "invalid imap port %d", port)
	}

	username := request.ImapUsername
	if username == "" {
		username = validation.CleanEmail
	}
	active := utils.GetOrDefault(request.Active, true)

	return &models.Account{
		EmailAddress: validation.CleanEmail,
		DisplayName:  request.DisplayName,
		ImapServer:   strings.TrimSpace(request.ImapServer),
		ImapPort:     port,
		ImapUsername: username,
		ImapPassword: request.ImapPassword,
		ImapSecurity: security,
		Folder:       request.Folder,
		Active:       active,
	}, nil
}

func defaultPort(security enum.ImapSecurity) int {
	if security == enum.ImapSecurityTLS {
		return 993
	}
	return 143
}

func (s *AccountService) ActivateAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.ActivateAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, id)

	if _, err := s.GetAccount(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Accounts.SetActive(ctx, id, true); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.deps.Supervisor.AddAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("[%s] account activated", id)
	return nil
}

// DeactivateAccount returns once the account's connection is closed.
func (s *AccountService) DeactivateAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.DeactivateAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, id)

	if _, err := s.GetAccount(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Accounts.SetActive(ctx, id, false); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.deps.Supervisor.RemoveAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.deps.Accounts.UpdateConnectionStatus(ctx, id, enum.ConnectionDisconnected, ""); err != nil {
		s.log.Warnf("[%s] failed to reset connection status: %v", id, err)
	}
	s.log.Infof("[%s] account deactivated", id)
	return nil
}

// DeleteAccount stops the account and removes everything stored for it.
func (s *AccountService) DeleteAccount(ctx context.Context, id string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.DeleteAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, id)

	if _, err := s.GetAccount(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Supervisor.RemoveAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.deps.Index.DeleteByAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := s.deps.SyncStates.DeleteAccountSyncStates(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if s.deps.Archive != nil {
		if err := s.deps.Archive.DeletePrefix(ctx, id+"/"); err != nil {
			s.log.Warnf("[%s] failed to delete archived messages: %v", id, err)
		}
	}
	if err := s.deps.Accounts.DeleteAccount(ctx, id); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("[%s] account deleted", id)
	return nil
}

func (s *AccountService) SyncAccount(ctx context.Context, id string) (dto.SyncRequestOutcome, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "AccountService.SyncAccount")
	defer span.Finish()
	tracing.TagAccount(span, id)

	outcome, err := s.deps.Supervisor.RequestSync(id)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	span.LogKV("outcome", outcome)
	return outcome, nil
}

// Reconcile starts supervisors for active accounts that have none and stops
// those whose account was deactivated or deleted behind our back. Accounts
// parked in the error state are left alone; they need an explicit activate.
func (s *AccountService) Reconcile(ctx context.Context) (*dto.ReconcileResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AccountService.Reconcile")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	active, err := s.deps.Accounts.ListActiveAccounts(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	supervised := s.deps.Supervisor.Status()

	result := &dto.ReconcileResult{Started: []string{}, Stopped: []string{}}
	wanted := make(map[string]struct{}, len(active))
	for _, account := range active {
		wanted[account.ID] = struct{}{}
		if _, ok := supervised[account.ID]; ok {
			continue
		}
		if err := s.deps.Supervisor.AddAccount(ctx, account.ID); err != nil {
			s.log.Warnf("[%s] reconcile failed to start supervisor: %v", account.ID, err)
			continue
		}
		result.Started = append(result.Started, account.ID)
	}

	for id := range supervised {
		if _, ok := wanted[id]; ok {
			continue
		}
		if err := s.deps.Supervisor.RemoveAccount(ctx, id); err != nil {
			s.log.Warnf("[%s] reconcile failed to stop supervisor: %v", id, err)
			continue
		}
		result.Stopped = append(result.Stopped, id)
	}

	span.LogKV("started", len(result.Started), "stopped", len(result.Stopped))
	return result, nil
}

// SyncAll asks every connected account for a sync run.
func (s *AccountService) SyncAll(ctx context.Context) int {
	span, _ := opentracing.StartSpanFromContext(ctx, "AccountService.SyncAll")
	defer span.Finish()

	requested := 0
	for id, status := range s.deps.Supervisor.Status() {
		if !status.State.IsActive() {
			continue
		}
		if _, err := s.deps.Supervisor.RequestSync(id); err == nil {
			requested++
		}
	}
	span.LogKV("requested", requested)
	return requested
}
