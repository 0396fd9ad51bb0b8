package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// confirm asks a yes/no question on an interactive terminal. Without a
// terminal there is nobody to answer, so unattended runs must pass --yes.
func confirm(in *os.File, out io.Writer, question string) (bool, error) {
	// Use int() conversion for cross-platform compatibility (Windows uses uintptr)
	if !term.IsTerminal(int(in.Fd())) {
		return false, configErrorf("stdin is not a terminal; pass --yes to deploy without confirmation")
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	return readYes(bufio.NewReader(in))
}

func readYes(r *bufio.Reader) (bool, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("reading answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
