package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func feedbackCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect the feedback log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Rebuild the learned weights from the feedback log and print them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), g)
		},
	})
	return cmd
}

func runReplay(ctx context.Context, g *globals) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.Records(ctx)
	if err != nil {
		return err
	}
	w := a.learner.Snapshot()

	if g.output == outputJSON {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Records int `json:"records"`
			Weights any `json:"weights"`
		}{len(records), w})
	}

	fmt.Fprintf(g.stdout, "%d feedback record(s)\n", len(records))
	keys := make([]string, 0, len(w.Factors))
	for k := range w.Factors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(g.stdout, "  %-40s %.4f\n", k, w.Factors[k])
	}
	return nil
}
