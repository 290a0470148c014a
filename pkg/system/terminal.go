// Package system wraps the little host-terminal handling the CLI needs.
package system

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether stdin is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadSecret prompts on stderr and reads one line from stdin with echo
// disabled. The line break the user types is not part of the result.
func ReadSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("read secret from terminal: %w", err)
	}
	return value, nil
}
