package cli

import (
	"fmt"

	"github.com/opsgate/opsgate/internal/client"
	"github.com/spf13/cobra"
)

func newConfirmationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirmations",
		Short: "List live confirmation tokens awaiting resubmission",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			pending, err := c.ListConfirmations(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range pending {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s expires %s  %s\n",
					t.TokenID, t.Tool, t.ExpiresAt.Format("15:04:05"), t.Preview)
			}
			return nil
		},
	}
	return cmd
}
