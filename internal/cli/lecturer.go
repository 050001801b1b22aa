package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"live-poll-service/internal/client"
	"live-poll-service/internal/domain"
)

type sessionOptions struct {
	server    string
	sessionID int64
	userID    int64
	token     string
}

func (o *sessionOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.server, "server", "http://localhost:8080", "base URL of the live-poll server")
	cmd.Flags().Int64Var(&o.sessionID, "session", 0, "session id")
	cmd.Flags().Int64Var(&o.userID, "user", 0, "user id (sent as X-User-ID when no token is given)")
	cmd.Flags().StringVar(&o.token, "token", "", "bearer token")
	_ = cmd.MarkFlagRequired("session")
}

func (o *sessionOptions) api() *client.API {
	return client.NewAPI(o.server, o.userID, o.token, nil)
}

// NewAdvanceCmd moves a session to its next question on the lecturer's behalf.
func NewAdvanceCmd() *cobra.Command {
	opts := sessionOptions{}
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Activate the next question of a session (lecturer)",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := opts.api().Advance(cmd.Context(), opts.sessionID)
			if errors.Is(err, domain.ErrEndOfSession) {
				fmt.Fprintln(cmd.OutOrStdout(), "end of session")
				return nil
			}
			if err != nil {
				return err
			}
			if session.ActiveQuestionID != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "active question #%d\n", *session.ActiveQuestionID)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewQuestionsCmd lists a session's questions in position order.
func NewQuestionsCmd() *cobra.Command {
	opts := sessionOptions{}
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "List a session's questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := opts.api().SessionQuestions(cmd.Context(), opts.sessionID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, q := range questions {
				fmt.Fprintf(out, "%d. #%d (%s) %s\n", q.Position+1, q.ID, q.Type, q.Text)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}
