package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docchat/internal/service/conversation"
	"docchat/internal/service/orphan"
)

func newSweepCmd(root *rootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry deletion of orphaned provider resources once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ledger, db, err := openLedger(root.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if list {
				orphans, err := ledger.List(ctx)
				if err != nil {
					return err
				}
				return enc.Encode(orphans)
			}

			prov, err := newProvider(root.cfg)
			if err != nil {
				return err
			}
			if prov == nil {
				return conversation.ErrMissingAPIKey
			}
			res, err := orphan.NewSweeper(ledger, prov).SweepOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep orphans: %w", err)
			}
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "Print the ledger instead of sweeping")
	return cmd
}
