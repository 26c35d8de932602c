package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Prompter asks the human operator to confirm a wallet request.
type Prompter interface {
	Confirm(ctx context.Context, request string) (bool, error)
}

// AutoApprove confirms everything. Used for unattended runs and tests.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string) (bool, error) { return true, nil }

// TerminalPrompter asks on a terminal and waits for y/N.
type TerminalPrompter struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter reads answers from in and writes prompts to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Confirm returns true only for an explicit "y" or "yes". EOF counts as no.
func (p *TerminalPrompter) Confirm(ctx context.Context, request string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := fmt.Fprintf(p.out, "%s [y/N]: ", request); err != nil {
		return false, fmt.Errorf("wallet: prompt: %w", err)
	}

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("wallet: read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
