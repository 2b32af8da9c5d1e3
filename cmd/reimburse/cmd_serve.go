package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/entrhq/reimburse/pkg/browser"
	"github.com/entrhq/reimburse/pkg/logging"
	"github.com/entrhq/reimburse/pkg/server"
	"github.com/entrhq/reimburse/pkg/session"
	"github.com/entrhq/reimburse/pkg/types"
)

const defaultSweepSchedule = "@every 1m"

var (
	serveAddr  string
	serveSweep string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API used by the chat bot",
	Long: `Serves the login, extraction and submission API. Expired sessions,
login tokens and progress entries are swept on the --sweep schedule, and
browsers whose session has gone are closed.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":3000", "Listen address")
	serveCmd.Flags().StringVar(&serveSweep, "sweep", defaultSweepSchedule, "Cron schedule of expiry sweeps")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(appOptions{component: "serve"})
	if err != nil {
		return err
	}
	defer a.Close()

	sw := &sweeper{
		sessions: a.sessions,
		progress: a.tracker,
		browsers: a.browsers,
		logger:   a.logger.With("sweep"),
	}
	c, err := scheduleSweeps(ctx, serveSweep, sw)
	if err != nil {
		return err
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	srv := server.New(a.service, a.scratch, server.WithLogger(a.logger.With("server")))
	fmt.Fprintf(cmd.OutOrStdout(), "reimburse v%s listening on %s\n", version, serveAddr)
	return srv.ListenAndServe(ctx, serveAddr)
}

// sweeper drops expired state and closes browsers whose session no
// longer loads.
type sweeper struct {
	sessions interface {
		Sweep(ctx context.Context) (int, error)
		Load(ctx context.Context, sessionID string) (*session.Record, error)
	}
	progress interface{ Sweep() int }
	browsers interface {
		List() []browser.Info
		CloseSession(sessionID string)
	}
	logger *logging.Logger
}

func (s *sweeper) run(ctx context.Context) {
	if n, err := s.sessions.Sweep(ctx); err != nil {
		s.logger.Warnf("session sweep failed: %v", err)
	} else if n > 0 {
		s.logger.Infof("swept %d expired session entries", n)
	}

	if n := s.progress.Sweep(); n > 0 {
		s.logger.Debugf("swept %d progress entries", n)
	}

	for _, info := range s.browsers.List() {
		_, err := s.sessions.Load(ctx, info.SessionID)
		if errors.Is(err, types.ErrSessionNotFound) {
			s.logger.Infof("closing browser of expired session %s", info.SessionID)
			s.browsers.CloseSession(info.SessionID)
		}
	}
}

// scheduleSweeps registers sw on schedule. The returned scheduler is not started.
func scheduleSweeps(ctx context.Context, schedule string, sw *sweeper) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() { sw.run(ctx) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return c, nil
}
