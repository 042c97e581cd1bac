package imap

import (
	"context"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
	"github.com/customeros/mailpulse/internal/tracing"
)

const (
	syncStateWriteTimeout     = 10 * time.Second
	defaultMaxMessageAttempts = 5
)

// syncCursor is the highest UID known to be fully handled in the selected
// folder. It only means something together with its UIDVALIDITY.
type syncCursor struct {
	folder      string
	uidValidity uint32
	lastUID     uint32
	// retryUID failed retryably in retryAttempts consecutive runs.
	retryUID      uint32
	retryAttempts int
}

func (s *SyncSupervisor) loadCursor(ctx context.Context, accountID string, mailbox *dto.MailboxSnapshot) *syncCursor {
	cursor := &syncCursor{folder: mailbox.Folder, uidValidity: mailbox.UIDValidity}

	state, err := s.deps.SyncStates.GetSyncState(ctx, accountID, mailbox.Folder)
	if err != nil {
		s.log.Warnf("Failed to load sync state for account %s, starting over: %v", accountID, err)
		return cursor
	}
	if state == nil {
		return cursor
	}
	if state.UIDValidity != mailbox.UIDValidity {
		s.log.Infof("UIDVALIDITY of %s changed for account %s (%d -> %d), resyncing",
			mailbox.Folder, accountID, state.UIDValidity, mailbox.UIDValidity)
		return cursor
	}
	cursor.lastUID = state.LastUID
	cursor.retryUID = state.RetryUID
	cursor.retryAttempts = state.RetryAttempts
	return cursor
}

// syncOnce runs the sync under the gate. Triggers that arrive during a run
// are served by one more run right after it.
func (s *SyncSupervisor) syncOnce(ctx context.Context, entry *connectionEntry, conn interfaces.MailConnection, mailbox *dto.MailboxSnapshot, cursor *syncCursor) error {
	for {
		dirty, err := s.gatedRun(ctx, entry, conn, mailbox, cursor)
		if err != nil {
			return err
		}
		if !dirty || ctx.Err() != nil {
			return nil
		}
	}
}

// gatedRun releases the gate even when the run panics.
func (s *SyncSupervisor) gatedRun(ctx context.Context, entry *connectionEntry, conn interfaces.MailConnection, mailbox *dto.MailboxSnapshot, cursor *syncCursor) (dirty bool, err error) {
	entry.gate.begin()
	defer func() {
		dirty = entry.gate.end()
	}()
	return false, s.syncRun(ctx, entry, conn, mailbox, cursor)
}

func (s *SyncSupervisor) syncRun(ctx context.Context, entry *connectionEntry, conn interfaces.MailConnection, mailbox *dto.MailboxSnapshot, cursor *syncCursor) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncSupervisor.syncRun")
	defer span.Finish()
	tracing.TagComponentSupervisor(span)
	tracing.TagAccount(span, entry.accountID)
	span.LogKV("lastUid", cursor.lastUID)

	candidates, err := s.listCandidates(ctx, conn, cursor)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	span.LogKV("candidates", len(candidates))

	result, ingestErr := s.deps.Pipeline.Ingest(ctx, conn, dto.IngestRequest{
		AccountID:    entry.accountID,
		Folder:       cursor.folder,
		UIDValidity:  cursor.uidValidity,
		CandidateIDs: candidates,
		Lookback:     s.cfg.Lookback(),
	})

	if result != nil {
		s.advanceCursor(entry, cursor, mailbox, candidates, result)
		if result.NewCount > 0 || result.FailedCount > 0 {
			s.log.Infof("Account %s synced: %d new, %d duplicate, %d dropped, %d failed",
				entry.accountID, result.NewCount, result.DuplicateCount, result.DroppedCount, result.FailedCount)
		}
	}
	if ingestErr != nil {
		tracing.TraceErr(span, ingestErr)
		return ingestErr
	}
	return nil
}

// listCandidates returns the UIDs to look at, ascending. The first run of a
// folder is bounded by the retention horizon and the initial cap; later
// runs look at everything past the cursor.
func (s *SyncSupervisor) listCandidates(ctx context.Context, conn interfaces.MailConnection, cursor *syncCursor) ([]uint32, error) {
	if cursor.lastUID > 0 {
		return conn.ListAfterUID(ctx, cursor.lastUID)
	}

	var uids []uint32
	var err error
	if lookback := s.cfg.Lookback(); lookback > 0 {
		uids, err = conn.ListSince(ctx, s.now().Add(-lookback))
	} else {
		uids, err = conn.ListAfterUID(ctx, 0)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if limit := s.cfg.InitialMaxMessages; limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	return uids, nil
}

// advanceCursor moves the cursor past everything handled for good. A
// retryable failure or an unprocessed candidate holds it just below itself
// so the next run sees it again, until the same UID has failed
// MaxMessageAttempts runs in a row.
func (s *SyncSupervisor) advanceCursor(entry *connectionEntry, cursor *syncCursor, mailbox *dto.MailboxSnapshot, candidates []uint32, result *dto.IngestResult) {
	floor := s.giveUpExhausted(entry, cursor, result)

	next := cursor.lastUID
	if floor > 0 {
		if floor-1 > next {
			next = floor - 1
		}
	} else {
		for _, uid := range candidates {
			if uid > next {
				next = uid
			}
		}
		if cursor.lastUID == 0 && mailbox.UIDNext > 0 && mailbox.UIDNext-1 > next {
			next = mailbox.UIDNext - 1
		}
	}
	cursor.lastUID = next

	now := s.now()
	ctx, cancel := context.WithTimeout(context.Background(), syncStateWriteTimeout)
	defer cancel()
	err := s.deps.SyncStates.SaveSyncState(ctx, &models.SyncState{
		AccountID:     entry.accountID,
		Folder:        cursor.folder,
		UIDValidity:   cursor.uidValidity,
		LastUID:       next,
		RetryUID:      cursor.retryUID,
		RetryAttempts: cursor.retryAttempts,
		LastSync:      now,
	})
	if err != nil {
		s.log.Warnf("Failed to save sync state for account %s: %v", entry.accountID, err)
	}

	entry.update(func(status *dto.AccountSyncStatus) {
		status.LastUID = next
		status.LastSyncAt = &now
		status.LastResult = result
	})
}

// giveUpExhausted counts another failed run against the UID holding the
// cursor and drops it once it is out of attempts. It returns the floor the
// cursor must stay below.
func (s *SyncSupervisor) giveUpExhausted(entry *connectionEntry, cursor *syncCursor, result *dto.IngestResult) uint32 {
	limit := s.cfg.MaxMessageAttempts
	if limit <= 0 {
		limit = defaultMaxMessageAttempts
	}

	floor := result.RetryFloor()
	for floor > 0 && result.HasRetryableError(floor) {
		if cursor.retryUID != floor {
			cursor.retryUID, cursor.retryAttempts = floor, 0
		}
		cursor.retryAttempts++
		if cursor.retryAttempts < limit {
			return floor
		}
		s.log.Errorf("Giving up on uid %d of account %s after %d attempts", floor, entry.accountID, cursor.retryAttempts)
		result.GiveUp(floor)
		cursor.retryUID, cursor.retryAttempts = 0, 0
		floor = result.RetryFloor()
	}
	if floor == 0 {
		cursor.retryUID, cursor.retryAttempts = 0, 0
	}
	return floor
}
