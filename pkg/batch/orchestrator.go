// Package batch sequences expense records through one browser session.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/types"
)

// Progress milestones. Records share the range between PercentRecords and
// PercentRecords+recordsSpan in proportion to their position.
const (
	PercentPreparing  = 5
	PercentBrowser    = 10
	PercentNavigating = 15
	PercentRecords    = 20
	PercentDone       = 100

	recordsSpan = 70
	// start, select, fill, save, advance
	subSteps = 5
)

const notAttempted = "not attempted"

// Steps are the browser actions of one session, bound to its page.
type Steps interface {
	Navigate(ctx context.Context) error
	SelectCategory(ctx context.Context, categoryID, expenseTypeID string) error
	Fill(ctx context.Context, rec types.ExpenseRecord) error
	Save(ctx context.Context) error
	Advance(ctx context.Context) error
}

// Orchestrator runs batches. It holds no per-batch state and may be shared;
// callers serialize batches of the same session.
type Orchestrator struct {
	logger *logging.Logger
	remove func(string) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithRemover replaces os.Remove for temp file cleanup.
func WithRemover(fn func(string) error) Option {
	return func(o *Orchestrator) {
		o.remove = fn
	}
}

// New creates an orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{remove: os.Remove}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Discard("batch")
	}
	return o
}

// Run submits task.Records in order inside the already-open session.
//
// The returned result always holds exactly one entry per record. A record
// that fails category selection, filling or saving is marked failed and
// the next record reuses the open form. Failing to navigate, or to open the
// form for the next record, stops the batch: the remaining records are
// marked not attempted and the error is returned alongside the result.
// task.TempFiles are removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, steps Steps, task types.BatchTask, sink progress.Sink) (*types.BatchResult, error) {
	defer o.cleanup(task.TempFiles)

	rep := progress.NewMonotonic(sink, task.TaskID)
	n := len(task.Records)
	result := &types.BatchResult{
		TaskID:  task.TaskID,
		Results: make([]types.RecordResult, 0, n),
	}
	if n == 0 {
		rep.Report(PercentDone, "No expenses to submit")
		return result, nil
	}

	rep.Report(PercentNavigating, "Navigating to expense form...")
	if err := steps.Navigate(ctx); err != nil {
		o.logger.Errorf("batch %s: navigation failed: %v", task.TaskID, err)
		o.abort(result, 0, n, err)
		rep.Report(PercentDone, "Failed: "+err.Error())
		return result, err
	}

	var stopErr error
	for i, rec := range task.Records {
		if err := ctx.Err(); err != nil {
			stopErr = err
			o.abort(result, i, n, err)
			break
		}

		err := o.submit(ctx, steps, rec, i, n, rep)
		if err != nil {
			o.logger.Errorf("batch %s: expense %d/%d failed: %v", task.TaskID, i+1, n, err)
			result.Results = append(result.Results, types.RecordResult{
				Index:     i,
				Attempted: true,
				Error:     err.Error(),
			})
			continue
		}

		if i < n-1 {
			rep.Report(percent(i, 4, n), fmt.Sprintf("Creating next expense form for %d/%d...", i+2, n))
			if err := steps.Advance(ctx); err != nil {
				o.logger.Errorf("batch %s: cannot open form for expense %d/%d: %v", task.TaskID, i+2, n, err)
				result.Results = append(result.Results, types.RecordResult{
					Index:     i,
					Attempted: true,
					Error:     err.Error(),
				})
				stopErr = err
				o.abort(result, i+1, n, err)
				break
			}
		}

		o.logger.Infof("batch %s: expense %d/%d submitted", task.TaskID, i+1, n)
		result.Results = append(result.Results, types.RecordResult{Index: i, Success: true, Attempted: true})
	}

	result.Tally()
	if stopErr != nil {
		rep.Report(PercentDone, fmt.Sprintf("Stopped after %d of %d expenses: %v", result.SuccessCount, n, stopErr))
		return result, stopErr
	}
	rep.Report(PercentDone, "All expenses processed!")
	o.logger.Infof("batch %s: %s", task.TaskID, result.Summary())
	return result, nil
}

func (o *Orchestrator) submit(ctx context.Context, steps Steps, rec types.ExpenseRecord, i, n int, rep *progress.Monotonic) error {
	rep.Report(percent(i, 0, n), fmt.Sprintf("Processing expense %d/%d...", i+1, n))
	if err := rec.Validate(); err != nil {
		return types.NewRecordFailed("validate", err)
	}

	rep.Report(percent(i, 1, n), fmt.Sprintf("Filling form for expense %d/%d...", i+1, n))
	if err := steps.SelectCategory(ctx, rec.CategoryValue, rec.ExpenseTypeValue); err != nil {
		return err
	}

	rep.Report(percent(i, 2, n), fmt.Sprintf("Filling form fields for expense %d/%d...", i+1, n))
	if err := steps.Fill(ctx, rec); err != nil {
		return err
	}

	rep.Report(percent(i, 3, n), fmt.Sprintf("Saving expense %d/%d...", i+1, n))
	return steps.Save(ctx)
}

// abort marks records from..n-1 as not attempted because of cause.
func (o *Orchestrator) abort(result *types.BatchResult, from, n int, cause error) {
	reason := fmt.Sprintf("%s: %v", notAttempted, cause)
	for i := from; i < n; i++ {
		result.Results = append(result.Results, types.RecordResult{Index: i, Error: reason})
	}
	result.Aborted = cause.Error()
	result.Tally()
}

// cleanup removes temp files. Errors never replace the batch outcome.
func (o *Orchestrator) cleanup(paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := o.remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.logger.Warnf("could not remove temp file %s: %v", p, err)
		}
	}
}

// percent places sub-step sub of record i on the records range.
func percent(i, sub, n int) int {
	return PercentRecords + (i*subSteps+sub)*recordsSpan/(n*subSteps)
}
