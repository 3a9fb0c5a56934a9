package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/techs-targe/PromptRig-sub001/internal/session"
)

var (
	runSessionID string
	runModel     string
)

var runCmd = &cobra.Command{
	Use:   "run <text>",
	Short: "Run one synchronous turn from the terminal",
	Long: `Runs a single agent turn and prints the response. Conversation
history persists across invocations, so repeated runs with the same
--session continue one conversation. Destructive operations need an
in-process confirmation and cannot be completed in one-shot mode; use
the API server for those.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "cli", "session id")
	runCmd.Flags().StringVar(&runModel, "model", "", "completion model (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "cli.run")
	defer span.End()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.DefaultModel = runModel
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	userText := strings.Join(args, " ")
	sess := rt.sessions.GetOrCreate(runSessionID, cfg.DefaultModel, cfg.Temperature, rt.settings.MaxIterations)

	if len(sess.Messages()) == 0 {
		if msgs, err := rt.st.LoadMessages(ctx, runSessionID); err == nil && len(msgs) > 0 {
			sess.LoadHistory(msgs)
		}
	}

	text, err := rt.engine.Run(ctx, sess, userText, nil, nil)
	if err != nil {
		return err
	}
	if saveErr := rt.st.SaveMessages(ctx, runSessionID, sess.Messages()); saveErr != nil {
		return fmt.Errorf("saving history: %w", saveErr)
	}

	fmt.Println(text)
	if sess.Status() == session.StatusWaitingConfirmation {
		fmt.Println("(この操作は実行されていません。破壊的な操作の確認は単発実行では完了できないため、API サーバー経由で実行してください)")
	}
	return nil
}
