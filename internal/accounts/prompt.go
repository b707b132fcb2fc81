package accounts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when a password is needed but stdin is not a tty.
var ErrNoTerminal = errors.New("accounts: password required but stdin is not a terminal")

// TerminalPrompt reads passwords from in without echo. It fails when in is
// not a terminal.
func TerminalPrompt(in *os.File, out io.Writer) PasswordPrompt {
	return func(_ context.Context, username string) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", ErrNoTerminal
		}

		_, _ = fmt.Fprintf(out, "Password for %s: ", username)
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
