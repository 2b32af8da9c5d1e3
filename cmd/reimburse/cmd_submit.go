package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/entrhq/reimburse/pkg/progress"
	"github.com/entrhq/reimburse/pkg/service"
	"github.com/entrhq/reimburse/pkg/tui"
	"github.com/entrhq/reimburse/pkg/types"
)

// submitFlags are shared by submit and batch.
type submitFlags struct {
	Session string
	Email   string
	Wait    time.Duration
	NoTUI   bool
}

// expenseFlags describe the single expense of the submit command.
type expenseFlags struct {
	Receipt          string
	Date             string
	Amount           string
	Merchant         string
	InvoiceNumber    string
	Description      string
	Category         string
	CategoryValue    string
	ExpenseTypeValue string
}

var (
	submitOpts   submitFlags
	expense      expenseFlags
	batchPattern string
	watchServer  string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Enter one expense claim",
	Long: `Enters one expense into the portal using an existing session (--session)
or by logging in first (--email).`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.yaml | receipts-dir>",
	Short: "Enter several expense claims in one browser session",
	Long: `Enters every expense of a YAML manifest, or every receipt found in a
directory, in order. Receipts from a directory are read with the vision model
and classified automatically; the ones it cannot read are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Follow the progress of a submission running on a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	for _, c := range []*cobra.Command{submitCmd, batchCmd} {
		f := c.Flags()
		f.StringVar(&submitOpts.Session, "session", "", "Logged-in session id")
		f.StringVar(&submitOpts.Email, "email", "", "Log in as this account first instead of using --session")
		f.DurationVar(&submitOpts.Wait, "wait", 5*time.Minute, "How long to wait for a manual login")
		f.BoolVar(&submitOpts.NoTUI, "no-tui", false, "Print progress lines instead of the live view")
		c.MarkFlagsMutuallyExclusive("session", "email")
	}

	f := submitCmd.Flags()
	f.StringVar(&expense.Receipt, "receipt", "", "Receipt file")
	f.StringVar(&expense.Date, "date", "", "Expense date (YYYY-MM-DD or DD-MM-YYYY)")
	f.StringVar(&expense.Amount, "amount", "", "Amount claimed")
	f.StringVar(&expense.Merchant, "merchant", "", "Merchant name")
	f.StringVar(&expense.InvoiceNumber, "invoice-number", "", "Invoice number")
	f.StringVar(&expense.Description, "description", "", "Description")
	f.StringVar(&expense.Category, "category", "", "Category name to classify")
	f.StringVar(&expense.CategoryValue, "category-value", "", "Portal category id")
	f.StringVar(&expense.ExpenseTypeValue, "expense-type-value", "", "Portal expense type id")
	for _, name := range []string{"receipt", "date", "amount", "merchant"} {
		_ = submitCmd.MarkFlagRequired(name)
	}

	batchCmd.Flags().StringVar(&batchPattern, "pattern", "", "Glob selecting receipts in a directory (default all images and PDFs)")

	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:3000", "Base URL of the reimburse server")
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	a, err := newApp(appOptions{component: "submit"})
	if err != nil {
		return err
	}
	defer a.Close()

	entry := manifestEntry{
		Receipt:          expense.Receipt,
		Date:             expense.Date,
		Amount:           expense.Amount,
		Merchant:         expense.Merchant,
		InvoiceNumber:    expense.InvoiceNumber,
		Description:      expense.Description,
		Category:         expense.Category,
		CategoryValue:    expense.CategoryValue,
		ExpenseTypeValue: expense.ExpenseTypeValue,
	}
	item, err := entry.item("", a.service.Classify)
	if err != nil {
		return err
	}
	return submitItems(cmd, a, []service.Item{item})
}

func runBatch(cmd *cobra.Command, args []string) error {
	source := args[0]
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{component: "batch", requireExtractor: info.IsDir()})
	if err != nil {
		return err
	}
	defer a.Close()

	var items []service.Item
	if info.IsDir() {
		warn := func(path string, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", path, err)
		}
		items, err = folderItems(cmd.Context(), source, batchPattern, a.service.Extract, warn)
	} else {
		var m *manifest
		if m, err = loadManifest(source); err == nil {
			if submitOpts.Session == "" && submitOpts.Email == "" {
				submitOpts.Session = m.Session
			}
			items, err = m.items(filepath.Dir(source), a.service.Classify)
		}
	}
	if err != nil {
		return err
	}
	return submitItems(cmd, a, items)
}

// submitter is the part of the service a submission needs.
type submitter interface {
	loginBackend
	SubmitBatch(ctx context.Context, sessionID, taskID string, items []service.Item) (*types.BatchResult, error)
}

func submitItems(cmd *cobra.Command, a *app, items []service.Item) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	sid := submitOpts.Session
	if sid == "" {
		if submitOpts.Email == "" {
			return errors.New("either --session or --email is required")
		}
		var err error
		if sid, err = ensureLoggedIn(ctx, a.service, out, submitOpts.Email, "", submitOpts.Wait); err != nil {
			return err
		}
	}

	var watch watchFunc
	if !submitOpts.NoTUI && isTerminal(out) {
		watch = func(ctx context.Context, taskID string) {
			_, _ = tui.Watch(ctx, tui.SourceFetcher{Source: a.tracker}, taskID, out)
		}
	}
	res, err := runSubmission(ctx, a.service, a.tracker, sid, items, watch, out)
	if res != nil {
		printResult(out, res)
	}
	if err != nil {
		return err
	}
	if res.FailedCount > 0 {
		return fmt.Errorf("%d of %d expenses failed", res.FailedCount, res.TotalCount)
	}
	return nil
}

// watchFunc shows progress of taskID until it completes or ctx ends.
type watchFunc func(ctx context.Context, taskID string)

// runSubmission runs the batch and, while it runs, either the live view or
// plain progress lines on out.
func runSubmission(ctx context.Context, s submitter, src progress.Source, sessionID string, items []service.Item, watch watchFunc, out io.Writer) (*types.BatchResult, error) {
	taskID := uuid.NewString()

	type outcome struct {
		res *types.BatchResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.SubmitBatch(ctx, sessionID, taskID, items)
		done <- outcome{res, err}
	}()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		if watch != nil {
			watch(watchCtx, taskID)
			return
		}
		printProgress(watchCtx, src, taskID, out)
	}()

	o := <-done
	// Give the view a last poll at 100% before it is torn down.
	select {
	case <-watched:
	case <-time.After(tui.DefaultInterval * 2):
	}
	stopWatch()
	<-watched
	return o.res, o.err
}

// printProgress writes a line per progress change until ctx ends.
func printProgress(ctx context.Context, src progress.Source, taskID string, out io.Writer) {
	ticker := time.NewTicker(tui.DefaultInterval)
	defer ticker.Stop()

	var last progress.Update
	for {
		if u := src.Get(taskID); u.Percentage != last.Percentage || u.Message != last.Message {
			last = u
			fmt.Fprintf(out, "[%3d%%] %s\n", u.Percentage, u.Message)
			if u.Percentage >= 100 {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func printResult(w io.Writer, res *types.BatchResult) {
	fmt.Fprintln(w, res.Summary())
	for _, r := range res.Results {
		switch {
		case r.Success:
			fmt.Fprintf(w, "  #%d ok\n", r.Index+1)
		case !r.Attempted:
			fmt.Fprintf(w, "  #%d not attempted: %s\n", r.Index+1, r.Error)
		default:
			fmt.Fprintf(w, "  #%d failed: %s\n", r.Index+1, r.Error)
		}
	}
	if res.Aborted != "" {
		fmt.Fprintf(w, "Stopped early: %s\n", res.Aborted)
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	fetcher := tui.HTTPFetcher{BaseURL: watchServer}
	last, err := tui.Watch(cmd.Context(), fetcher, args[0], cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if last.Percentage < 100 {
		return nil
	}
	if strings.HasPrefix(last.Message, "Failed") {
		return errors.New(last.Message)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
