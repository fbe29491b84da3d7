package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/scalper/journal"
)

func newJournalCmd(rc *rootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trade <trade_id>",
		Short: "Show a single trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.NewSQLite(rc.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer j.Close()

			rec, err := j.GetTrade(args[0])
			if err != nil {
				return err
			}
			printTrades([]journal.TradeRecord{rec})
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "today",
		Short: "List trades closed today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDay(rc, time.Now().Local().Format("2006-01-02"))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "day <YYYY-MM-DD>",
		Short: "List trades closed on a given day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDay(rc, args[0])
		},
	})

	return cmd
}

func listDay(rc *rootConfig, day string) error {
	start, err := time.ParseInLocation("2006-01-02", day, time.Local)
	if err != nil {
		return fmt.Errorf("date: %w", err)
	}
	end := start.AddDate(0, 0, 1)

	j, err := journal.NewSQLite(rc.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}
	printTrades(recs)
	return nil
}

func printTrades(recs []journal.TradeRecord) {
	if len(recs) == 0 {
		fmt.Println("no trades")
		return
	}

	var total float64
	for _, t := range recs {
		fmt.Printf("%s  %-8s %-5s qty=%-8.0f entry=%-10.2f exit=%-10.2f pl=%+.2f  %s\n",
			t.CloseTime.Local().Format("15:04:05"),
			t.Symbol, t.Direction, t.Quantity, t.EntryPrice, t.ExitPrice,
			t.RealizedPL, t.Reason)
		total += t.RealizedPL
	}
	fmt.Printf("\n%d trades, net P/L %+.2f\n", len(recs), total)
}
