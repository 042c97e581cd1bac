package imap

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
	mperrors "github.com/customeros/mailpulse/internal/errors"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

const (
	DEFAULT_IMAP_LOGOUT   = 25 * time.Minute
	DEFAULT_IMAP_TIMEOUT  = 60 * time.Second
	DEFAULT_LOGOUT_WAIT   = 5 * time.Second
	DEFAULT_KEEPALIVE     = 30 * time.Second
	updatesBuffer         = 100
	fetchMessagesInFlight = 10
)

// imapDialer opens go-imap client connections.
type imapDialer struct {
	log     logger.Logger
	timeout time.Duration
}

func NewDialer(timeout time.Duration, log logger.Logger) interfaces.MailDialer {
	if timeout <= 0 {
		timeout = DEFAULT_IMAP_TIMEOUT
	}
	return &imapDialer{log: log, timeout: timeout}
}

// Dial connects, upgrades the connection as configured and logs in. A
// rejected login is an authentication error; everything else is transport.
func (d *imapDialer) Dial(ctx context.Context, account *models.Account) (interfaces.MailConnection, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapDialer.Dial")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)
	span.SetTag("server", account.ImapServer)
	span.SetTag("port", account.ImapPort)
	span.SetTag("security", string(account.ImapSecurity))

	type dialResult struct {
		client *client.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		c, err := d.connect(account)
		done <- dialResult{client: c, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			tracing.TraceErr(span, res.err)
			return nil, res.err
		}
		return newConnection(account.ID, res.client, d.log), nil
	case <-ctx.Done():
		// the dial goroutine is bounded by the dialer timeout; close whatever it
		// produces
		go func() {
			if res := <-done; res.client != nil {
				_ = res.client.Terminate()
			}
		}()
		err := mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("%w: %v", mperrors.ErrConnectionTimeout, ctx.Err()))
		tracing.TraceErr(span, err)
		return nil, err
	}
}

func (d *imapDialer) connect(account *models.Account) (*client.Client, error) {
	serverAddr := account.ImapAddress()
	dialer := &net.Dialer{
		Timeout:   d.timeout,
		KeepAlive: DEFAULT_KEEPALIVE,
	}
	tlsConfig := &tls.Config{ServerName: account.ImapServer}

	var c *client.Client
	var err error
	if account.ImapSecurity == enum.ImapSecurityTLS || account.ImapSecurity == "" {
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		return nil, mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("failed to connect to %s: %w", serverAddr, err))
	}

	c.Timeout = d.timeout

	if account.ImapSecurity == enum.ImapSecurityStartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Terminate()
			return nil, mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("failed to start tls: %w", err))
		}
	}

	if err := c.Login(account.ImapUsername, account.ImapPassword); err != nil {
		_ = c.Terminate()
		if isNetworkError(err) {
			return nil, mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("login interrupted: %w", err))
		}
		return nil, mperrors.Classify(mperrors.ErrAuthentication, fmt.Errorf("failed to login as %s: %w", account.ImapUsername, err))
	}

	return c, nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "connection closed")
}

// imapConnection adapts a logged-in go-imap client. Commands are not
// concurrent; the supervisor owning it issues them one at a time.
type imapConnection struct {
	accountID string
	log       logger.Logger
	client    *client.Client
	timeout   time.Duration
	folder    string

	changes   chan struct{}
	closeOnce sync.Once
}

var _ interfaces.MailConnection = (*imapConnection)(nil)

func newConnection(accountID string, c *client.Client, log logger.Logger) *imapConnection {
	conn := &imapConnection{
		accountID: accountID,
		log:       log,
		client:    c,
		timeout:   c.Timeout,
		changes:   make(chan struct{}, 1),
	}

	// the client blocks its reader when Updates is not drained
	updates := make(chan client.Update, updatesBuffer)
	c.Updates = updates
	go conn.drainUpdates(updates)

	return conn
}

func (c *imapConnection) drainUpdates(updates <-chan client.Update) {
	for {
		select {
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); ok {
				select {
				case c.changes <- struct{}{}:
				default:
				}
			}
		case <-c.client.LoggedOut():
			return
		}
	}
}

func (c *imapConnection) SupportsIdle() bool {
	ok, err := c.client.Support("IDLE")
	if err != nil {
		c.log.Warnf("[%s] failed to read capabilities: %v", c.accountID, err)
		return false
	}
	return ok
}

func (c *imapConnection) Select(ctx context.Context, folder string) (*dto.MailboxSnapshot, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapConnection.Select")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder", folder)

	var status *imap.MailboxStatus
	err := c.run(ctx, func() error {
		var err error
		status, err = c.client.Select(folder, true)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	c.folder = folder
	// changes queued before the select belong to the previous state
	select {
	case <-c.changes:
	default:
	}

	return &dto.MailboxSnapshot{
		Folder:      folder,
		UIDValidity: status.UidValidity,
		UIDNext:     status.UidNext,
		Messages:    status.Messages,
	}, nil
}

func (c *imapConnection) ListSince(ctx context.Context, since time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Since = since
	return c.search(ctx, "imapConnection.ListSince", criteria, 0)
}

// ListAfterUID lists UIDs strictly greater than uid. "uid+1:*" always
// matches the newest message, so the result is filtered.
func (c *imapConnection) ListAfterUID(ctx context.Context, uid uint32) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(uid+1, 0)
	return c.search(ctx, "imapConnection.ListAfterUID", criteria, uid)
}

func (c *imapConnection) search(ctx context.Context, operation string, criteria *imap.SearchCriteria, after uint32) ([]uint32, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation)
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.accountID)

	var uids []uint32
	err := c.run(ctx, func() error {
		var err error
		uids, err = c.client.UidSearch(criteria)
		return err
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	filtered := uids[:0]
	for _, uid := range uids {
		if uid > after {
			filtered = append(filtered, uid)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })
	span.LogKV("uids", len(filtered))
	return filtered, nil
}

func (c *imapConnection) Fetch(ctx context.Context, uids []uint32) ([]*dto.RawMessage, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapConnection.Fetch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.accountID)
	span.LogKV("uids", len(uids))

	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	// PEEK keeps the \Seen flag untouched
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		section.FetchItem(),
		imap.FetchUid,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchRFC822Size,
	}

	uidValidity := uint32(0)
	if mailbox := c.client.Mailbox(); mailbox != nil {
		uidValidity = mailbox.UidValidity
	}

	var raws []*dto.RawMessage
	err := c.run(ctx, func() error {
		messages := make(chan *imap.Message, fetchMessagesInFlight)
		done := make(chan error, 1)
		go func() {
			done <- c.client.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			raw := &dto.RawMessage{
				UID:          msg.Uid,
				UIDValidity:  uidValidity,
				Folder:       c.folder,
				Flags:        msg.Flags,
				InternalDate: msg.InternalDate,
				Size:         msg.Size,
			}
			if body := msg.GetBody(section); body != nil {
				data, err := io.ReadAll(body)
				if err != nil {
					c.log.Warnf("[%s] failed to read body of uid %d: %v", c.accountID, msg.Uid, err)
					raw.ReadErr = fmt.Errorf("failed to read body of uid %d: %w", msg.Uid, err)
				} else {
					raw.Body = data
				}
			}
			raws = append(raws, raw)
		}
		return <-done
	})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	sort.Slice(raws, func(i, j int) bool { return raws[i].UID < raws[j].UID })
	return raws, nil
}

// WaitForChange idles until the server reports a new message, the timeout
// elapses or ctx is done.
func (c *imapConnection) WaitForChange(ctx context.Context, timeout time.Duration) (bool, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "imapConnection.WaitForChange")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, c.accountID)

	// a change may have arrived while we were busy syncing
	select {
	case <-c.changes:
		return true, nil
	default:
	}

	stop := make(chan struct{})
	idleDone := make(chan error, 1)

	c.client.Timeout = 0
	go func() {
		idleDone <- c.client.Idle(stop, &client.IdleOptions{
			LogoutTimeout: DEFAULT_IMAP_LOGOUT,
			PollInterval:  -1,
		})
	}()
	defer func() {
		c.client.Timeout = c.timeout
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	changed := false
	select {
	case err := <-idleDone:
		// idle ended without being asked to
		if err == nil {
			err = fmt.Errorf("idle ended unexpectedly")
		}
		err = mperrors.Classify(mperrors.ErrTransport, err)
		tracing.TraceErr(span, err)
		return false, err
	case <-c.changes:
		changed = true
	case <-timer.C:
	case <-ctx.Done():
	}

	close(stop)
	select {
	case err := <-idleDone:
		if err != nil && ctx.Err() == nil {
			err = mperrors.Classify(mperrors.ErrTransport, err)
			tracing.TraceErr(span, err)
			return false, err
		}
	case <-time.After(DEFAULT_LOGOUT_WAIT):
		_ = c.client.Terminate()
		err := mperrors.Classify(mperrors.ErrTransport, fmt.Errorf("server did not end idle"))
		tracing.TraceErr(span, err)
		return false, err
	}

	span.LogKV("changed", changed)
	return changed, ctx.Err()
}

func (c *imapConnection) Noop(ctx context.Context) error {
	return c.run(ctx, c.client.Noop)
}

// Close logs out, falling back to dropping the socket when the server does
// not answer in time.
func (c *imapConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			c.client.Timeout = DEFAULT_LOGOUT_WAIT
			done <- c.client.Logout()
		}()

		select {
		case err = <-done:
		case <-time.After(DEFAULT_LOGOUT_WAIT):
			err = c.client.Terminate()
		}
		if err != nil && stderrors.Is(err, client.ErrAlreadyLoggedOut) {
			err = nil
		}
	})
	return err
}

// run executes a blocking client command, terminating the connection when
// ctx ends first. Errors are transport errors.
func (c *imapConnection) run(ctx context.Context, command func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- command()
	}()

	select {
	case err := <-done:
		return mperrors.Classify(mperrors.ErrTransport, err)
	case <-ctx.Done():
		_ = c.client.Terminate()
		<-done
		return mperrors.Classify(mperrors.ErrTransport, ctx.Err())
	}
}
