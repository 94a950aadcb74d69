// Package main implements the mapmaster CLI: field mapping suggestions,
// reviewer feedback and multi-layer FHIR validation.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/config"
	"github.com/aks129/FhirMapMaster/pkg/logger"
	"github.com/aks129/FhirMapMaster/telemetry"
)

const appName = "mapmaster"

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
)

// errFailed makes the process exit with status 1 without printing an
// additional error; the command has already reported the problem.
var errFailed = errors.New("validation failed")

// globals holds the persistent flags and the state built from them.
type globals struct {
	configPath string
	logLevel   string
	output     string

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stdin  io.Reader
}

func main() {
	if err := rootCmd(os.Stdout, os.Stdin).Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func rootCmd(stdout io.Writer, stdin io.Reader) *cobra.Command {
	g := &globals{stdout: stdout, stdin: stdin}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "FHIR mapping suggestions and validation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	cmd.PersistentFlags().StringVarP(&g.output, "output", "o", outputText, "Output format: text, json")

	cmd.AddCommand(suggestCmd(g), validateCmd(g), feedbackCmd(g), versionCmd(g))
	return cmd
}

func (g *globals) init() error {
	switch strings.ToLower(g.output) {
	case outputText, outputJSON:
		g.output = strings.ToLower(g.output)
	default:
		return fmt.Errorf("%w: unknown output format %q", mm.ErrConfiguration, g.output)
	}

	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("%w: %v", mm.ErrConfiguration, err)
	}
	g.cfg = cfg
	g.logger = log
	return nil
}

// metricsShutdownTimeout bounds how long in-flight scrapes may finish.
const metricsShutdownTimeout = 5 * time.Second

// serveMetrics exposes m on the configured address until the returned stop
// function is called.
func (g *globals) serveMetrics(m *mm.Metrics) (stop func()) {
	stop = func() {}
	if g.cfg.Metrics.Addr == "" {
		return stop
	}
	h, err := telemetry.Handler(m)
	if err != nil {
		g.logger.Warn("metrics disabled", zap.Error(err))
		return stop
	}
	ln, err := net.Listen("tcp", g.cfg.Metrics.Addr)
	if err != nil {
		g.logger.Warn("metrics disabled", zap.Error(err))
		return stop
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: metricsShutdownTimeout}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	g.logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			g.logger.Warn("metrics server shutdown", zap.Error(err))
		}
		<-done
	}
}

func versionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(g.stdout, "%s version %s (FHIR %s)\n", appName, mm.Version, mm.R4.Release())
		},
	}
}
