// Command codeforge turns a natural-language specification into a tested
// project by planning, generating, running tests and repairing.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1 // session ended in FAILED or could not start
	exitUsage     = 2
	exitCancelled = 130
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "codeforge: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "codeforge: %v\n", err)
	return exitUsage
}
