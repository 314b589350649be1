package cli

import (
	"encoding/json"
	"fmt"

	"github.com/opsgate/opsgate/internal/client"
	"github.com/opsgate/opsgate/pkg/types"
	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var (
		argsJSON string
		confirm  string
		dryRun   bool
		timeout  string
	)

	cmd := &cobra.Command{
		Use:   "exec TOOL",
		Short: "Submit a tool call (file.write, file.delete, shell.run, git.commit, git.push)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("parse --args: %w", err)
				}
			}

			req := types.ToolRequest{
				Tool:    args[0],
				Args:    toolArgs,
				DryRun:  dryRun,
				Timeout: timeout,
			}
			if confirm != "" {
				req.Confirm = true
				req.ConfirmationToken = confirm
			}

			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			resp, err := c.ExecuteTool(cmd.Context(), req)
			if err != nil {
				return err
			}
			printJSON(cmd, resp)

			switch {
			case resp.Status == types.DecisionPendingConfirm:
				fmt.Fprintf(cmd.ErrOrStderr(), "confirmation required; retry with --confirm %s\n", resp.ConfirmationToken)
				return &ExitError{code: 3}
			case !resp.Success:
				return &ExitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirmation token from a previous PENDING_CONFIRM response")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate without executing")
	cmd.Flags().StringVar(&timeout, "timeout", "", "Execution timeout (e.g. 30s)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
