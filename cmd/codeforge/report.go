package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeforge/pkg/config"
	"codeforge/pkg/persistence"
	"codeforge/pkg/session"
)

func newReportCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Reprint the report of a past session (latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(g, cmd, outDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			id := ""
			if len(args) == 1 {
				id = args[0]
			} else if id, err = store.LatestSessionID(); err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			rep, err := loadReport(store, id)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			if jsonOutput {
				data, err := rep.JSON()
				if err != nil {
					return &exitError{code: exitFailed, err: err}
				}
				fmt.Fprintln(os.Stdout, string(data))
				return nil
			}
			fmt.Fprint(os.Stdout, newRenderer(stdoutIsTerminal()).Report(rep))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory the session wrote to")
	return cmd
}

func newSessionsCmd(g *globalOptions) *cobra.Command {
	var (
		limit  int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(g, cmd, outDir)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.ListSessions(limit)
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}
			fmt.Fprint(os.Stdout, newRenderer(stdoutIsTerminal()).Sessions(list))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to list")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory the sessions wrote to")
	return cmd
}

// openStore opens the session database of the configured (or given) output
// directory. A missing database is an error rather than a new empty one.
func openStore(g *globalOptions, cmd *cobra.Command, outDir string) (*persistence.Store, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, &exitError{code: exitFailed, err: err}
	}
	if cmd.Flags().Changed("out") {
		cfg.Output.Dir = outDir
		cfg.Output.Database = filepath.Join(outDir, ".codeforge", "sessions.db")
	}
	config.ApplyDerivedDefaults(cfg)

	if _, err := os.Stat(cfg.Output.Database); err != nil {
		return nil, &exitError{code: exitFailed, err: fmt.Errorf("no session database at %s", cfg.Output.Database)}
	}
	store, err := persistence.Open(cfg.Output.Database)
	if err != nil {
		return nil, &exitError{code: exitFailed, err: err}
	}
	return store, nil
}

// loadReport prefers the report stored at session end. Sessions that never
// ended get a partial report rebuilt from their recorded test runs.
func loadReport(store *persistence.Store, id string) (*session.Report, error) {
	sess, err := store.GetSession(id)
	if err != nil {
		if errors.Is(err, persistence.ErrSessionNotFound) {
			return nil, fmt.Errorf("no session %q", id)
		}
		return nil, err
	}
	if sess.ReportJSON != "" {
		var rep session.Report
		if err := json.Unmarshal([]byte(sess.ReportJSON), &rep); err != nil {
			return nil, fmt.Errorf("stored report of %s is unreadable: %w", id, err)
		}
		return &rep, nil
	}

	runs, err := store.ListIterations(id)
	if err != nil {
		return nil, err
	}
	return session.ReportFromRecords(sess, runs), nil
}
