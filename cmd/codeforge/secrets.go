package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"codeforge/pkg/config"
)

func newSecretsCmd(g *globalOptions) *cobra.Command {
	var keys string
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store API keys in the encrypted secrets file",
		Long: `secrets encrypts a comma-separated list of API keys into
.codeforge/secrets.json.enc (mode 0600). Later commands unlock it with the
password from ` + EnvPassword + ` or an interactive prompt.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if !stdinIsTerminal() && (keys == "" || os.Getenv(EnvPassword) == "") {
				return &exitError{code: exitUsage, err: fmt.Errorf("not a terminal: pass --keys and set %s", EnvPassword)}
			}

			if keys == "" {
				entered, err := readPassword("API keys (comma-separated): ")
				if err != nil {
					return &exitError{code: exitFailed, err: err}
				}
				keys = entered
			}
			list := splitKeys(keys)
			if len(list) == 0 {
				return &exitError{code: exitUsage, err: fmt.Errorf("no API keys given")}
			}

			password, err := newPassword()
			if err != nil {
				return &exitError{code: exitFailed, err: err}
			}

			secrets := map[string]string{config.SecretCredentials: strings.Join(list, ",")}
			if err := config.EncryptSecretsFile(g.secretsDir, password, secrets); err != nil {
				return &exitError{code: exitFailed, err: fmt.Errorf("failed to encrypt secrets: %w", err)}
			}
			fmt.Printf("✅ %d keys saved to %s (file permissions: 0600)\n", len(list), config.SecretsPath(g.secretsDir))
			return nil
		},
	}
	cmd.Flags().StringVar(&keys, "keys", "", "comma-separated API keys (prompted for when omitted)")
	return cmd
}

// newPassword takes the password from the environment or asks twice.
func newPassword() (string, error) {
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		first, err := readPassword("New password: ")
		if err != nil {
			return "", err
		}
		second, err := readPassword("Confirm password: ")
		if err != nil {
			return "", err
		}
		if first == "" {
			fmt.Fprintln(os.Stderr, "❌ Password must not be empty.")
			continue
		}
		if first == second {
			return first, nil
		}
		fmt.Fprintln(os.Stderr, "❌ Passwords do not match. Please try again.")
	}
	return "", fmt.Errorf("no matching password after %d attempts", maxAttempts)
}

func splitKeys(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
