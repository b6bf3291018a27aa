package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"codeforge/pkg/config"
	"codeforge/pkg/logx"
	"codeforge/pkg/version"
)

// EnvPassword unlocks the encrypted secrets file without a prompt.
const EnvPassword = "CODEFORGE_PASSWORD"

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	envFile    string
	secretsDir string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "codeforge",
		Short: "Generate, test and repair a project from a specification",
		Long: `codeforge plans a module breakdown for a natural-language specification,
generates every module with a language model, assembles the project on disk
and repairs it until its tests pass or the repair budget runs out.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.debug {
				logx.SetDebug(true)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default is ./codeforge.yaml or $HOME/.config/codeforge/codeforge.yaml)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default .env)")
	flags.StringVar(&opts.secretsDir, "secrets-dir", ".", "directory holding .codeforge/secrets.json.enc")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(opts),
		newHealthCmd(opts),
		newSecretsCmd(opts),
		newReportCmd(opts),
		newSessionsCmd(opts),
	)
	return root
}

// loadConfig reads configuration, unlocking the secrets file when one exists.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	password, err := secretsPassword(opts.secretsDir)
	if err != nil {
		return nil, err
	}
	return config.Load(config.LoadOptions{
		ConfigFile: opts.configFile,
		EnvFile:    opts.envFile,
		SecretsDir: opts.secretsDir,
		Password:   password,
	})
}

// secretsPassword returns the password for the secrets file: from the
// environment, or prompted for on a terminal. It is empty when there is no
// secrets file or no way to ask.
func secretsPassword(dir string) (string, error) {
	if !config.SecretsFileExists(dir) {
		return "", nil
	}
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}
	if !stdinIsTerminal() {
		logx.Warnf("secrets file present but %s is not set; credentials will come from config and environment", EnvPassword)
		return "", nil
	}
	return readPassword("Password for " + config.SecretsPath(dir) + ": ")
}

func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	defer func() {
		for i := range pw {
			pw[i] = 0
		}
	}()
	return string(pw), nil
}
