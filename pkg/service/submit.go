package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/entrhq/reimburse/pkg/batch"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/scratch"
	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

// Receipt is an uploaded receipt file.
type Receipt struct {
	Name string
	Data []byte
}

// Item is one expense of a submission: the record fields and its receipt.
// Record.FilePath is filled in by the service.
type Item struct {
	Record  types.ExpenseRecord
	Receipt Receipt
}

// Submit enters one expense. It is a batch of one.
func (s *Service) Submit(ctx context.Context, sessionID, taskID string, item Item) (*types.BatchResult, error) {
	return s.SubmitBatch(ctx, sessionID, taskID, []Item{item})
}

// SubmitBatch enters items in order inside the session's browser. Progress
// is published under taskID, generated when empty. Receipts are written to
// the scratch directory and removed when the call returns.
//
// A non-nil result is returned whenever the batch reached the browser,
// even alongside an error that stopped it early.
func (s *Service) SubmitBatch(ctx context.Context, sessionID, taskID string, items []Item) (*types.BatchResult, error) {
	if sessionID == "" {
		return nil, invalid("sessionId is required")
	}
	if len(items) == 0 {
		return nil, invalid("no expenses to submit")
	}
	if taskID == "" {
		taskID = uuid.NewString()
	}
	report := progress.NewMonotonic(s.progress, taskID)
	report.Report(batch.PercentPreparing, fmt.Sprintf("Preparing to submit %d expenses...", len(items)))

	task := types.BatchTask{TaskID: taskID, Records: make([]types.ExpenseRecord, len(items))}
	handedOff := false
	defer func() {
		if !handedOff {
			s.scratch.Remove(task.TempFiles...)
		}
	}()

	for i, it := range items {
		if len(it.Receipt.Data) == 0 {
			return nil, s.fail(report, invalid("expense %d has no receipt file", i+1))
		}
		path, err := s.scratch.WriteReceipt(sessionID, i, it.Receipt.Name, it.Receipt.Data)
		if err != nil {
			return nil, s.fail(report, err)
		}
		task.TempFiles = append(task.TempFiles, path)
		if err := scratch.ValidateReceipt(path); err != nil {
			return nil, s.fail(report, invalid("expense %d: %v", i+1, err))
		}
		task.Records[i] = it.Record
		task.Records[i].FilePath = path
	}

	rec, unlock, err := s.lockSession(ctx, sessionID)
	if err != nil {
		return nil, s.fail(report, err)
	}
	defer unlock()

	report.Report(batch.PercentBrowser, "Starting browser...")
	h, err := s.browsers.EnsureContext(ctx, sessionID, rec.Cookies)
	if err != nil {
		return nil, s.fail(report, err)
	}
	page, err := pageOf(h)
	if err != nil {
		return nil, s.fail(report, err)
	}

	s.logger.Infof("session %s: submitting %d expenses as task %s", sessionID, len(items), taskID)
	handedOff = true
	result, err := s.orchestrator.Run(ctx, s.portal.Steps(page), task, s.progress)
	if errors.Is(err, types.ErrNotLoggedIn) {
		s.expire(ctx, sessionID)
	}
	if result != nil {
		s.logger.Infof("task %s: %s", taskID, result.Summary())
	}
	return result, err
}

// fail publishes a terminal progress entry for a batch that never reached
// the browser.
func (s *Service) fail(report *progress.Monotonic, err error) error {
	report.Report(batch.PercentDone, fmt.Sprintf("Failed: %v", err))
	return err
}

// expire marks a session whose portal login has lapsed.
func (s *Service) expire(ctx context.Context, sessionID string) {
	_, err := s.sessions.Update(ctx, sessionID, func(r *session.Record) error {
		r.LoginStatus = session.StatusExpired
		return nil
	})
	if err != nil {
		s.logger.Warnf("could not mark session %s expired: %v", sessionID, err)
	}
}
