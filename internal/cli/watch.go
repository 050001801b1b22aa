package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"live-poll-service/internal/client"
	"live-poll-service/internal/config"
	"live-poll-service/internal/domain"
	"live-poll-service/internal/logger"
)

type watchOptions struct {
	sessionOptions
	pullOnly bool
	counts   bool
}

// NewWatchCmd follows a session from the terminal: the active question as a student
// sees it, or with --counts the lecturer's live tally.
func NewWatchCmd(configPath *string) *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a session's active question (or its live counts) from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			api := opts.api()
			out := cmd.OutOrStdout()
			if opts.counts {
				return watchCounts(ctx, api, opts, out)
			}

			ccfg := client.Config{
				SessionID: opts.sessionID,
				OnChange:  printSnapshot(out),
				Log:       log,
			}
			if !opts.pullOnly {
				ccfg.SocketURL = client.SocketURL(opts.server, opts.sessionID, opts.userID, opts.token)
			}
			err = client.NewController(api, ccfg).Run(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	opts.bind(cmd)
	cmd.Flags().BoolVar(&opts.pullOnly, "pull-only", false, "poll only; do not open the WebSocket")
	cmd.Flags().BoolVar(&opts.counts, "counts", false, "show the lecturer's response counts for the active question")
	return cmd
}

func printSnapshot(out io.Writer) func(client.Snapshot) {
	var last string
	return func(s client.Snapshot) {
		line := describe(s)
		if line == last {
			return
		}
		last = line
		fmt.Fprintln(out, line)
	}
}

func describe(s client.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", s.State)
	if s.Connection != client.ConnDisabled {
		fmt.Fprintf(&b, " socket=%s", s.Connection)
	}
	if s.Question != nil {
		fmt.Fprintf(&b, " #%d (%s) %s:", s.Question.ID, s.Question.Type, s.Question.Text)
		for _, opt := range s.Question.Options {
			fmt.Fprintf(&b, " [%d] %s", opt.ID, opt.Text)
		}
	}
	if s.Outcome != client.OutcomeNone {
		fmt.Fprintf(&b, " last=%s", s.Outcome)
	}
	return b.String()
}

// watchCounts follows the active question and prints its tally whenever it changes.
func watchCounts(ctx context.Context, api *client.API, opts watchOptions, out io.Writer) error {
	ctx, stopAll := context.WithCancel(ctx)
	defer stopAll()

	var (
		current int64
		cancel  context.CancelFunc = func() {}
	)
	defer func() { cancel() }()

	err := client.Poll(ctx, client.DefaultPollInterval, nil, func(ctx context.Context) error {
		view, err := api.ActiveQuestion(ctx, opts.sessionID)
		if err != nil {
			return err
		}
		if view.Ended {
			fmt.Fprintln(out, "session ended")
			stopAll()
			return nil
		}
		if view.ActiveQuestionID == nil || *view.ActiveQuestionID == current {
			return nil
		}
		cancel()
		current = *view.ActiveQuestionID
		var qctx context.Context
		qctx, cancel = context.WithCancel(ctx)
		questionID := current
		go func() {
			_ = client.WatchCounts(qctx, api, questionID, client.DefaultChartInterval, func(c domain.ResponseCounts) {
				fmt.Fprintf(out, "question #%d: %d respondents, %d correct, per option %v\n",
					questionID, c.ResponseCount, c.CorrectCount, c.OptionCounts)
			}, func(err error) {
				fmt.Fprintf(out, "question #%d: %v\n", questionID, err)
			})
		}()
		return nil
	}, func(err error) {
		fmt.Fprintf(out, "poll failed: %v\n", err)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
