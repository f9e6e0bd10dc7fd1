package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ethereum/esp-website-sub001/internal/db"
	"github.com/ethereum/esp-website-sub001/internal/models"
	"github.com/ethereum/esp-website-sub001/internal/repository"
)

var attemptsFlags struct {
	addr   string
	status string
	round  string
	limit  int
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "List ledger entries from OxiDB",
	Long: `Lists submission attempts recorded in the OxiDB ledger, newest first.

Use --status partial to find records created in the CRM whose attachment
was not uploaded or not linked.`,
	Args: cobra.NoArgs,
	RunE: runAttempts,
}

func init() {
	f := attemptsCmd.Flags()
	f.StringVar(&attemptsFlags.addr, "oxidb", os.Getenv("OXIDB_ADDR"), "OxiDB address (host:port)")
	f.StringVar(&attemptsFlags.status, "status", "", "complete, aborted or partial")
	f.StringVar(&attemptsFlags.round, "round", "", "round id")
	f.IntVar(&attemptsFlags.limit, "limit", 20, "maximum entries")
}

func runAttempts(cmd *cobra.Command, _ []string) error {
	if attemptsFlags.addr == "" {
		return fmt.Errorf("no OxiDB address: set --oxidb or OXIDB_ADDR")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, attemptsFlags.addr, 1, zap.NewNop())
	if err != nil {
		return err
	}
	defer pool.Close()

	items, total, err := repository.NewAttemptRepo(pool).List(ctx, repository.AttemptFilter{
		Status:  models.AttemptStatus(attemptsFlags.status),
		RoundID: attemptsFlags.round,
		Limit:   attemptsFlags.limit,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECEIVED\tATTEMPT\tROUND\tSTATUS\tFAILED STEP\tRECORD")
	for _, a := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ReceivedAt, a.AttemptID, a.RoundID, a.Status, dash(a.FailedStep), dash(a.RecordID))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d\n", len(items), total)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
