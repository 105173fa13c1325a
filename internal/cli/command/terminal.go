package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal reads interactive input.
type Terminal interface {
	// Interactive reports whether a person can answer prompts.
	Interactive() bool
	// ReadLine prints prompt and reads one echoed line.
	ReadLine(prompt string) (string, error)
	// ReadSecret prints prompt and reads one line without echo.
	ReadSecret(prompt string) (string, error)
}

type stdTerminal struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

// StdTerminal reads from stdin and prompts on stderr.
func StdTerminal() Terminal {
	return &stdTerminal{in: os.Stdin, out: os.Stderr, reader: bufio.NewReader(os.Stdin)}
}

func (t *stdTerminal) Interactive() bool {
	return term.IsTerminal(int(t.in.Fd()))
}

func (t *stdTerminal) ReadLine(prompt string) (string, error) {
	fmt.Fprint(t.out, prompt)
	line, err := t.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *stdTerminal) ReadSecret(prompt string) (string, error) {
	if !t.Interactive() {
		// Piped input, e.g. `echo $PW | querydeck-cli vault init`.
		return t.ReadLine("")
	}
	fmt.Fprint(t.out, prompt)
	b, err := term.ReadPassword(int(t.in.Fd()))
	fmt.Fprintln(t.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readNewSecret asks twice and requires both answers to match.
func readNewSecret(t Terminal, what string) (string, error) {
	first, err := t.ReadSecret(fmt.Sprintf("New %s: ", what))
	if err != nil {
		return "", err
	}
	if !t.Interactive() {
		return first, nil
	}
	second, err := t.ReadSecret(fmt.Sprintf("Repeat %s: ", what))
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%s entries do not match", what)
	}
	return first, nil
}
