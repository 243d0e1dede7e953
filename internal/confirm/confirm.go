// Package confirm gates mutating steps behind an operator's answer.
package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/kubeadapt/pool-autoscaler/internal/errors"
)

// Gate decides whether a mutating step may proceed.
type Gate interface {
	Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error)
}

// Unattended approves every step. It is selected by -y.
type Unattended struct{}

// Confirm always returns true.
func (Unattended) Confirm(context.Context, string, bool) (bool, error) { return true, nil }

// Interactive asks on out and reads answers from in.
type Interactive struct {
	out   io.Writer
	lines chan readResult
}

type readResult struct {
	line string
	err  error
}

// NewInteractive creates a gate reading answers line by line from in.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	g := &Interactive{out: out, lines: make(chan readResult)}
	go g.read(bufio.NewScanner(in))
	return g
}

// The reader goroutine lets Confirm return on context cancellation while a
// read is blocked on stdin.
func (g *Interactive) read(sc *bufio.Scanner) {
	for sc.Scan() {
		g.lines <- readResult{line: sc.Text()}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	for {
		g.lines <- readResult{err: err}
	}
}

// Confirm prints prompt with a [Y/n] or [y/N] suffix and waits for an
// answer. Blank input selects the default; unrecognised input asks again.
// End of input or ctx cancellation returns ErrCancelled.
func (g *Interactive) Confirm(ctx context.Context, prompt string, defaultYes bool) (bool, error) {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}

	for {
		fmt.Fprintf(g.out, "%s %s ", prompt, suffix)

		var res readResult
		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out)
			return false, apperrors.New(apperrors.ErrCancelledCode, "confirm", "confirmation interrupted", ctx.Err())
		case res = <-g.lines:
		}
		if res.err != nil {
			fmt.Fprintln(g.out)
			return false, apperrors.New(apperrors.ErrCancelledCode, "confirm", "no answer on input", res.err)
		}

		switch strings.ToLower(strings.TrimSpace(res.line)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(g.out, "Please respond with 'y' or 'n'.")
	}
}
