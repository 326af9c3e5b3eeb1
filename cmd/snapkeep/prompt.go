package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// EnvPassphrase supplies the passphrase when stdin is not a terminal.
const EnvPassphrase = "SNAPKEEP_PASSPHRASE"

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// readPassphrase prompts on w for a passphrase without echo. With confirm
// the passphrase is asked for twice. Outside a terminal it falls back to
// $SNAPKEEP_PASSPHRASE.
func readPassphrase(w io.Writer, confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if pass := os.Getenv(EnvPassphrase); pass != "" {
			return pass, nil
		}
		return "", errors.New("stdin is not a terminal: set " + EnvPassphrase)
	}

	pass, err := promptOnce(w, fd, "Passphrase: ")
	if err != nil {
		return "", err
	}
	if !confirm {
		return pass, nil
	}
	again, err := promptOnce(w, fd, "Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if pass != again {
		return "", errors.New("passphrases do not match")
	}
	return pass, nil
}

func promptOnce(w io.Writer, fd int, prompt string) (string, error) {
	if _, err := fmt.Fprint(w, prompt); err != nil {
		return "", err
	}
	pw, err := readPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}
