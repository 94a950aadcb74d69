package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/engine"
)

type validateFlags struct {
	profile string
	bundle  bool
	quiet   bool
}

// fileResult is the JSON output for one validated input.
type fileResult struct {
	Source   string       `json:"source"`
	Valid    bool         `json:"valid"`
	Report   *mm.Report   `json:"report,omitempty"`
	Reports  []*mm.Report `json:"reports,omitempty"`
	Error    string       `json:"error,omitempty"`
	Duration string       `json:"duration"`
}

func validateCmd(g *globals) *cobra.Command {
	f := &validateFlags{}
	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Validate FHIR resources",
		Long: `Validate runs the structural, profile, terminology and business-rule
layers over each file. File arguments may be glob patterns; "-" reads
stdin. With --bundle every file is read as a Bundle whose entries are
validated together, so references between entries resolve.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), g, f, args)
		},
	}
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "Profile id or URL (default: per resource type)")
	cmd.Flags().BoolVar(&f.bundle, "bundle", false, "Treat each input as a Bundle")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Hide information issues")
	return cmd
}

func runValidate(ctx context.Context, g *globals, f *validateFlags, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sources, err := expandArgs(args)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	defer g.serveMetrics(a.metrics)()

	results := make([]fileResult, 0, len(sources))
	failed := false
	for _, src := range sources {
		res := validateSource(ctx, a.validator, g.stdin, src, f)
		if !res.Valid {
			failed = true
		}
		results = append(results, res)
		if g.output == outputText {
			printResult(g.stdout, res, f.quiet)
		}
	}

	if g.output == outputJSON {
		enc := json.NewEncoder(g.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

// expandArgs resolves glob patterns. "-" is kept as stdin.
func expandArgs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		if arg == "-" {
			out = append(out, arg)
			continue
		}
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %s", arg)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func validateSource(ctx context.Context, v *engine.Validator, stdin io.Reader, src string, f *validateFlags) fileResult {
	start := time.Now()
	res := fileResult{Source: src}

	var data []byte
	var err error
	if src == "-" {
		res.Source = "stdin"
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		res.Error = err.Error()
		res.Duration = time.Since(start).Round(time.Microsecond).String()
		return res
	}

	if f.bundle {
		batch, err := v.ValidateBundle(ctx, bytes.NewReader(data))
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Reports = batch.Reports()
			res.Valid = batch.Failed() == 0
		}
	} else {
		report, err := v.ValidateBytes(ctx, data, f.profile)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Report = report
			res.Valid = report.Status == mm.StatusPass
		}
	}
	res.Duration = time.Since(start).Round(time.Microsecond).String()
	return res
}

func printResult(w io.Writer, res fileResult, quiet bool) {
	status := "VALID"
	if !res.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "== %s ==\n", res.Source)
	fmt.Fprintf(w, "Status: %s (%s)\n", status, res.Duration)
	if res.Error != "" {
		fmt.Fprintf(w, "Error: %s\n\n", res.Error)
		return
	}
	reports := res.Reports
	if res.Report != nil {
		reports = []*mm.Report{res.Report}
	}
	for _, r := range reports {
		printReport(w, r, quiet)
	}
	fmt.Fprintln(w)
}

func printReport(w io.Writer, r *mm.Report, quiet bool) {
	name := r.ResourceType
	if r.ResourceID != "" {
		name += "/" + r.ResourceID
	}
	if r.ProfileID != "" {
		name += " against " + r.ProfileID
	}
	fmt.Fprintf(w, "%s: %s, %d error(s), %d warning(s)\n", name, r.Status, r.ErrorCount(), r.WarningCount())
	if r.Quality != nil {
		fmt.Fprintf(w, "  completeness %.0f%%, must-support coverage %.0f%%\n",
			r.Quality.Completeness*100, r.Quality.MustSupportCoverage*100)
	}
	for _, iss := range r.Issues {
		if quiet && iss.Severity == mm.SeverityInformation {
			continue
		}
		fmt.Fprintf(w, "  %s [%s/%s] %s", severityLabel(iss.Severity), iss.Layer, iss.Code, iss.Message)
		if iss.Path != "" {
			fmt.Fprintf(w, " @ %s", iss.Path)
		}
		fmt.Fprintln(w)
		if iss.SuggestedFix != "" {
			fmt.Fprintf(w, "        fix: %s\n", iss.SuggestedFix)
		}
	}
}

func severityLabel(s mm.Severity) string {
	switch s {
	case mm.SeverityError:
		return "ERROR"
	case mm.SeverityWarning:
		return "WARN "
	case mm.SeverityInformation:
		return "INFO "
	default:
		return "     "
	}
}
