package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/user/energychat/internal/client"
	"github.com/user/energychat/internal/types"
)

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RunPlain reads one message per line from in and writes each assembled
// answer to out. It returns when in is exhausted or ctx is done.
func RunPlain(ctx context.Context, opener client.Opener, in io.Reader, out io.Writer) error {
	sess := client.NewSession(opener, client.Options{})
	defer sess.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/retry" {
			if err := sess.Retry(); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
		} else if err := sess.Send(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		if err := sess.Wait(ctx); err != nil {
			sess.Stop()
			return err
		}
		printResult(out, sess.Snapshot())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func printResult(out io.Writer, snap client.Snapshot) {
	if n := len(snap.Messages); n > 0 && snap.Messages[n-1].Role == types.RoleAssistant {
		fmt.Fprint(out, renderMessage(snap.Messages[n-1], 0))
	}
	if snap.Status == types.StatusError && snap.Err != nil {
		// Turn errors are already shown on the message itself.
		var te *client.TurnError
		if !errors.As(snap.Err, &te) {
			fmt.Fprintf(out, "error: %v\n", snap.Err)
		}
	}
}
