package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// Console implementa ports.Notifier y ports.TxObserver sobre un terminal.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	table bool
	last  *domain.GameState
}

var (
	_ ports.Notifier   = (*Console)(nil)
	_ ports.TxObserver = (*Console)(nil)
)

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// StateChanged imprime el snapshot si cambió respecto al último impreso.
func (c *Console) StateChanged(_ context.Context, s domain.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last != nil && c.last.Equal(s) {
		return
	}
	c.last = &s

	if c.table {
		c.printFull(s)
	} else {
		c.printCompact(s)
	}
}

func (c *Console) PendingChanged(_ context.Context, a domain.PendingAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Dismissed {
		fmt.Fprintf(c.out, "[%s] %s: %s\n", stamp(), a.Label(), domain.DismissNotice)
		return
	}
	fmt.Fprintf(c.out, "[%s] … %s: %s\n", stamp(), a.Label(), strings.ToLower(string(a.Stage)))
}

// Outcome imprime el resultado final de una acción.
func (c *Console) Outcome(_ context.Context, o domain.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	label := o.Action.Label()
	if !o.Succeeded() {
		msg := "failed"
		if o.Err != nil {
			msg = o.Err.Message
		}
		fmt.Fprintf(c.out, "[%s] ✗ %s: %s\n", stamp(), label, msg)
		if o.Err.Actionable() {
			fmt.Fprintf(c.out, "  → join the %s sell queue to sell as soon as it opens\n", o.Action.Token)
		}
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] ✓ %s", stamp(), label)
	if o.SoldDirect {
		sb.WriteString(" (sale was open, sold directly)")
	}
	if o.Retried {
		sb.WriteString(" (re-approved after a price move)")
	}
	if o.Receipt != nil {
		fmt.Fprintf(&sb, " tx %s block %d", shortHash(o.Receipt.TxHash), o.Receipt.BlockNumber)
	}
	fmt.Fprintln(c.out, sb.String())
	if o.Ticket != nil {
		fmt.Fprintf(c.out, "  queue: %s\n", o.Ticket)
	}
}

func (c *Console) Banner(_ context.Context, b domain.Banner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] ! %s\n", stamp(), b.Message)
	if len(b.Winners) > 0 {
		names := make([]string, len(b.Winners))
		for i, w := range b.Winners {
			names[i] = domain.TruncateAddress(w)
		}
		fmt.Fprintf(c.out, "  winners: %s\n", strings.Join(names, ", "))
	}
}

func (c *Console) StillPending(_ context.Context, txHash common.Hash, waited time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "[%s] ! tx %s still pending after %s\n", stamp(), shortHash(txHash), waited.Truncate(time.Second))
}

// PrintState imprime un snapshot siempre, sin deduplicar. Lo usa el CLI.
func (c *Console) PrintState(s domain.GameState, tickets []domain.QueueTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printFull(s)
	for _, t := range tickets {
		fmt.Fprintf(c.out, "  queue: %s\n", t)
	}
}

// PrintJournal imprime el historial de acciones.
func (c *Console) PrintJournal(entries []domain.JournalEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries) == 0 {
		fmt.Fprintln(c.out, "  (no actions recorded)")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("When", "Action", "Token", "Count", "Result", "Tx")
	for _, e := range entries {
		result := string(e.Stage)
		if e.Category != "" {
			result += " " + string(e.Category)
		}
		count := ""
		if e.Count > 0 {
			count = fmt.Sprintf("%d", e.Count)
		}
		table.Append(
			e.FinishedAt.Local().Format("01-02 15:04:05"),
			string(e.Action),
			e.Token.String(),
			count,
			result,
			e.TxHash,
		)
	}
	table.Render()
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(s domain.GameState) {
	fmt.Fprintf(c.out, "[%s] Hi %d | Lo %d | you: Hi %d Lo %d | allowance %s USDC",
		stamp(), s.PriceHigh, s.PriceLow, s.TokenBalances[domain.TokenHigh], s.TokenBalances[domain.TokenLow],
		s.ApprovedSpend.String())
	if s.Concluded() {
		fmt.Fprintf(c.out, " | GAME OVER (%d winners)", len(s.Winners))
	}
	fmt.Fprintln(c.out)
}

// printFull imprime la tabla del juego.
func (c *Console) printFull(s domain.GameState) {
	status := "running"
	if s.Concluded() {
		status = "over"
	}
	fmt.Fprintf(c.out, "\n[%s] %s, game %s\n", stamp(), domain.TruncateAddress(s.Account), status)

	table := tablewriter.NewWriter(c.out)
	table.Header("Token", "Price", "Players", "You hold", "Buy", "Sell")
	for _, k := range domain.TokenKinds {
		table.Append(
			k.String(),
			fmt.Sprintf("%d", s.Price(k)),
			fmt.Sprintf("%d", s.PlayerTotals[k]),
			fmt.Sprintf("%d", s.Balance(k)),
			yesNo(s.CanBuy(k)),
			yesNo(s.CanSell(k)),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  Approved spend: %s USDC\n", s.ApprovedSpend.String())
	if s.Concluded() {
		if s.IsWinner(s.Account) {
			fmt.Fprintln(c.out, "  You are one of the winners!")
		} else {
			fmt.Fprintf(c.out, "  %d winners\n", len(s.Winners))
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func shortHash(h common.Hash) string {
	s := h.Hex()
	return s[:10] + "…"
}

func stamp() string { return time.Now().Format("15:04:05") }
