package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/field"
	"github.com/aks129/FhirMapMaster/suggest"
)

type suggestFlags struct {
	resource  string
	ig        string
	csvPath   string
	hint      string
	accept    string
	reject    string
	modify    string
	rejectAll bool
}

func suggestCmd(g *globals) *cobra.Command {
	f := &suggestFlags{}
	cmd := &cobra.Command{
		Use:   "suggest [field [sample...]]",
		Short: "Suggest target elements for source fields",
		Long: `Suggest ranks target element paths for source fields.

Give one field name with its sample values, or --csv with a file whose
header row names the fields and whose rows provide samples. With a single
field, --accept, --reject, --modify or --reject-all records the reviewer's
decision in the feedback store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggest(cmd.Context(), g, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.resource, "resource", "r", "Patient", "Target resource type")
	cmd.Flags().StringVar(&f.ig, "ig", "", "Implementation guide identifier passed to providers")
	cmd.Flags().StringVar(&f.csvPath, "csv", "", "CSV file with a header row (- for stdin)")
	cmd.Flags().StringVar(&f.hint, "hint", "", "Semantic hint for a single field, e.g. identifier")
	cmd.Flags().StringVar(&f.accept, "accept", "", "Accept the suggestion with this target path")
	cmd.Flags().StringVar(&f.reject, "reject", "", "Reject the suggestion with this target path")
	cmd.Flags().StringVar(&f.modify, "modify", "", "Replace a suggestion: SUGGESTED=CHOSEN")
	cmd.Flags().BoolVar(&f.rejectAll, "reject-all", false, "Reject every suggestion")
	return cmd
}

func (f *suggestFlags) decisions() int {
	n := 0
	for _, set := range []bool{f.accept != "", f.reject != "", f.modify != "", f.rejectAll} {
		if set {
			n++
		}
	}
	return n
}

func runSuggest(ctx context.Context, g *globals, f *suggestFlags, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fields, err := f.fields(g, args)
	if err != nil {
		return err
	}
	if f.decisions() > 1 {
		return fmt.Errorf("%w: choose one of --accept, --reject, --modify, --reject-all", mm.ErrConfiguration)
	}
	if f.decisions() == 1 && len(fields) != 1 {
		return fmt.Errorf("%w: decisions need exactly one field", mm.ErrConfiguration)
	}

	a, err := newApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	defer g.serveMetrics(a.metrics)()

	sets := make([]*suggest.Set, 0, len(fields))
	for _, fc := range fields {
		sets = append(sets, a.session.Suggest(ctx, fc, f.resource, f.ig))
	}

	if f.decisions() == 1 {
		if err := f.record(ctx, a, sets[0]); err != nil {
			return err
		}
	}

	if g.output == outputJSON {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sets)
	}
	for _, set := range sets {
		printSet(g.stdout, set)
	}
	return nil
}

func (f *suggestFlags) record(ctx context.Context, a *app, set *suggest.Set) error {
	switch {
	case f.accept != "":
		_, err := a.session.Accept(ctx, set, f.accept)
		return err
	case f.reject != "":
		return a.session.Reject(ctx, set, f.reject, "rejected by reviewer")
	case f.modify != "":
		from, to, ok := strings.Cut(f.modify, "=")
		if !ok {
			return fmt.Errorf("%w: --modify expects SUGGESTED=CHOSEN", mm.ErrConfiguration)
		}
		_, err := a.session.Modify(ctx, set, strings.TrimSpace(from), to)
		return err
	default:
		return a.session.RejectAll(ctx, set)
	}
}

func (f *suggestFlags) fields(g *globals, args []string) ([]field.Context, error) {
	if f.csvPath == "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: give a field name or --csv", mm.ErrConfiguration)
		}
		var opts []field.Option
		if f.hint != "" {
			opts = append(opts, field.WithHint(field.Hint(f.hint)))
		}
		return []field.Context{field.New(args[0], args[1:], opts...)}, nil
	}

	var r io.Reader = g.stdin
	if f.csvPath != "-" {
		file, err := os.Open(f.csvPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		r = file
	}
	return readCSVFields(r)
}

// readCSVFields builds one field context per column, sampling at most
// field.MaxSamples rows.
func readCSVFields(r io.Reader) ([]field.Context, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	samples := make([][]string, len(header))
	for rows := 0; rows < field.MaxSamples; rows++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		for i := range header {
			if i < len(row) {
				samples[i] = append(samples[i], row[i])
			}
		}
	}

	fields := make([]field.Context, 0, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			continue
		}
		fields = append(fields, field.New(name, samples[i]))
	}
	return fields, nil
}

func printSet(w io.Writer, set *suggest.Set) {
	fmt.Fprintf(w, "== %s -> %s ==\n", set.Field, set.Resource)
	if set.Degraded {
		for _, f := range set.Failures {
			fmt.Fprintf(w, "  (provider %s unavailable: %s)\n", f.Provider, f.Reason)
		}
	}
	if len(set.Suggestions) == 0 {
		fmt.Fprintln(w, "  no suggestions")
	}
	for i, sg := range set.Suggestions {
		origins := make([]string, len(sg.Origins))
		for j, o := range sg.Origins {
			origins[j] = o.String()
		}
		fmt.Fprintf(w, "  %d. %-40s %.2f  %s\n", i+1, sg.TargetPath(), sg.Fused, strings.Join(origins, ", "))
		if sg.Candidate.Rationale != "" {
			fmt.Fprintf(w, "     %s\n", sg.Candidate.Rationale)
		}
	}
	fmt.Fprintln(w)
}
