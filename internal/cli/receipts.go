package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/opsgate/opsgate/internal/client"
	"github.com/opsgate/opsgate/pkg/types"
	"github.com/spf13/cobra"
)

func newReceiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Inspect the receipt ledger",
	}

	cmd.AddCommand(newReceiptsListCmd())
	cmd.AddCommand(newReceiptsShowCmd())
	cmd.AddCommand(newReceiptsUndoCmd())
	return cmd
}

func newReceiptsListCmd() *cobra.Command {
	var (
		tool     string
		decision string
		result   string
		since    string
		until    string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if tool != "" {
				q.Set("tool", tool)
			}
			if decision != "" {
				q.Set("decision", decision)
			}
			if result != "" {
				q.Set("result", result)
			}
			if since != "" {
				q.Set("since", since)
			}
			if until != "" {
				q.Set("until", until)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			receipts, err := c.ListReceipts(cmd.Context(), q)
			if err != nil {
				return err
			}

			for _, r := range receipts {
				undoMark := " "
				if r.UndoSupported {
					undoMark = "u"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %-15s %-15s %s %s\n",
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.Tool, r.Decision, r.Result, undoMark, r.ReceiptID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Filter by tool name")
	cmd.Flags().StringVar(&decision, "decision", "", "Filter by decision (ALLOWED|DENIED|PENDING_CONFIRM)")
	cmd.Flags().StringVar(&result, "result", "", "Filter by result (OK|ERROR|PENDING_CONFIRM)")
	cmd.Flags().StringVar(&since, "since", "", "Only receipts after this time (RFC3339 or duration like 2h)")
	cmd.Flags().StringVar(&until, "until", "", "Only receipts before this time")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum receipts to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many receipts")
	return cmd
}

func newReceiptsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show RECEIPT_ID",
		Short: "Show one receipt in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			r, err := c.GetReceipt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(cmd, r)
			return nil
		},
	}
	return cmd
}

func newReceiptsUndoCmd() *cobra.Command {
	var confirm string

	cmd := &cobra.Command{
		Use:   "undo RECEIPT_ID",
		Short: "Replay a receipt's undo steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getClientConfig(cmd)
			c := client.New(cfg.serverAddr, cfg.apiKey)
			resp, err := c.UndoReceipt(cmd.Context(), args[0], confirm)
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

	cmd.Flags().StringVar(&confirm, "confirm", "", "Confirmation token for a pending undo step")
	return cmd
}
