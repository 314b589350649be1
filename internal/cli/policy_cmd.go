package cli

import (
	"fmt"

	"github.com/opsgate/opsgate/internal/policy"
	"github.com/opsgate/opsgate/pkg/types"
	"github.com/spf13/cobra"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy files",
	}

	cmd.AddCommand(newPolicyCheckCmd())
	return cmd
}

// policy check evaluates a hypothetical operation locally, without a
// server and without executing anything.
func newPolicyCheckCmd() *cobra.Command {
	var (
		policyPath string
		writePath  string
		deletePath string
		command    string
		repoPath   string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate an operation against a policy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := policy.LoadFromFile(policyPath)
			if err != nil {
				return err
			}
			eval, err := policy.NewEvaluator(pol)
			if err != nil {
				return err
			}

			var verdict policy.Verdict
			switch {
			case writePath != "":
				verdict = eval.EvaluateFileWrite(writePath)
			case deletePath != "":
				verdict = eval.EvaluateFileDelete(deletePath)
			case command != "":
				verdict = eval.EvaluateShell(command, dryRun)
			case repoPath != "":
				verdict = eval.EvaluateVCS(repoPath)
			default:
				return fmt.Errorf("one of --write, --delete, --command or --repo is required")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", verdict.Decision, verdict.Reason)
			if verdict.Decision == types.DecisionDenied {
				return &ExitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "policy.yml", "Path to policy YAML")
	cmd.Flags().StringVar(&writePath, "write", "", "Evaluate a file write to this path")
	cmd.Flags().StringVar(&deletePath, "delete", "", "Evaluate a file delete of this path")
	cmd.Flags().StringVar(&command, "command", "", "Evaluate a shell command line")
	cmd.Flags().StringVar(&repoPath, "repo", "", "Evaluate a VCS mutation in this repository")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Treat the command as a dry run")
	return cmd
}
