package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codeforge/pkg/config"
	"codeforge/pkg/logx"
	"codeforge/pkg/session"
	"codeforge/pkg/specs"
	"codeforge/pkg/utils"
)

type runOptions struct {
	outDir        string
	language      string
	testCommand   string
	projectName   string
	maxIterations int
	workers       int
	metrics       bool
	clean         bool
	jsonOutput    bool
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{maxIterations: -1}
	cmd := &cobra.Command{
		Use:   "run <spec-file>",
		Short: "Run one generation session for a specification",
		Long: `Run plans, generates and assembles a project from the specification file
(markdown, plain text or PDF), then runs its tests and repairs failures.

Exit status is 0 when the tests pass, 1 when the session failed and 130 when
it was interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			opts.apply(cmd, cfg)

			spec, err := specs.LoadFile(args[0])
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			spec = spec.Apply(specs.Options{
				TargetLanguage: opts.language,
				TestCommand:    opts.testCommand,
				ProjectName:    opts.projectName,
			})

			if opts.clean {
				if err := cleanOutput(cfg); err != nil {
					return &exitError{code: exitFailed, err: err}
				}
			}
			return runSession(cmd.Context(), cfg, spec, opts.jsonOutput)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.outDir, "out", "o", "", "output directory for the generated project")
	f.StringVar(&opts.language, "language", "", "target language (overrides the spec front matter)")
	f.StringVar(&opts.testCommand, "test-command", "", "test command (overrides the spec front matter)")
	f.StringVar(&opts.projectName, "project-name", "", "project name (overrides the spec front matter)")
	f.IntVar(&opts.maxIterations, "max-iterations", -1, "repair budget (default from config)")
	f.IntVar(&opts.workers, "workers", 0, "generation workers (default from config)")
	f.BoolVar(&opts.metrics, "metrics", false, "write a metrics snapshot at session end")
	f.BoolVar(&opts.clean, "clean", false, "remove previous output (session records are kept)")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	return cmd
}

// cleanOutput empties the output directory except the session records, so
// stale files from an earlier run cannot leak into this run's tests.
func cleanOutput(cfg *config.Config) error {
	if err := utils.CleanDirectoryContents(cfg.Output.Dir, ".codeforge"); err != nil {
		return fmt.Errorf("failed to clean %s: %w", cfg.Output.Dir, err)
	}
	return nil
}

// apply overlays explicitly set flags on the loaded configuration and
// recomputes the paths derived from the output directory.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output.Dir = o.outDir
		cfg.Output.RunLog = ""
		cfg.Output.Database = ""
		cfg.Output.Events = ""
		cfg.Metrics.Snapshot = ""
	}
	if flags.Changed("max-iterations") {
		cfg.Repair.MaxIterations = o.maxIterations
	}
	if flags.Changed("workers") {
		cfg.Generation.Workers = o.workers
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = o.metrics
	}
	config.ApplyDerivedDefaults(cfg)
}

func runSession(parent context.Context, cfg *config.Config, spec *specs.Specification, jsonOutput bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := session.New(session.Options{Config: cfg, Spec: spec})
	if err != nil {
		return &exitError{code: exitFailed, err: err}
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logx.Warnf("failed to close session: %v", cerr)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Cancel()
	}()

	logx.Infof("🚀 session %s: generating into %s", s.ID, cfg.Output.Dir)
	rep, runErr := s.Run(ctx)

	if jsonOutput {
		data, err := rep.JSON()
		if err != nil {
			return &exitError{code: exitFailed, err: err}
		}
		fmt.Fprintln(os.Stdout, string(data))
	} else {
		fmt.Fprint(os.Stdout, newRenderer(stdoutIsTerminal()).Report(rep))
	}

	switch {
	case errors.Is(runErr, session.ErrCancelled):
		return &exitError{code: exitCancelled}
	case runErr != nil:
		return &exitError{code: exitFailed}
	case !rep.Succeeded():
		return &exitError{code: exitFailed}
	}
	return nil
}
