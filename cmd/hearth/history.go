package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/nadzzz/hearth/internal/config"
	"github.com/nadzzz/hearth/internal/history"
)

func historyCmd() *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent interactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			store, closeStore, err := openHistory(ctx, cfg.History)
			if err != nil {
				return err
			}
			defer closeStore()

			log := history.New(store, history.Capacity)
			if err := log.Load(ctx); err != nil {
				return err
			}
			recs := log.Recent(n, true)

			if asJSON {
				enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			renderHistory(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "number of records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func renderHistory(w io.Writer, recs []history.Record) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Time", "Conversation", "Request", "Status", "Targets", "Response"})
	for _, r := range recs {
		tw.AppendRow(table.Row{
			r.Timestamp.Local().Format(time.DateTime),
			r.ConversationID,
			r.RequestText,
			r.Status,
			strings.Join(r.TargetEntityIDs, ", "),
			r.ResponseText,
		})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Total", len(recs)})
	tw.Render()
}
