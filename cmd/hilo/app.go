package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/hilo/config"
	"github.com/alejandrodnm/hilo/internal/adapters/httpapi"
	"github.com/alejandrodnm/hilo/internal/adapters/notify"
	"github.com/alejandrodnm/hilo/internal/adapters/onchain"
	"github.com/alejandrodnm/hilo/internal/adapters/storage"
	"github.com/alejandrodnm/hilo/internal/adapters/wallet"
	"github.com/alejandrodnm/hilo/internal/application/classify"
	"github.com/alejandrodnm/hilo/internal/application/events"
	"github.com/alejandrodnm/hilo/internal/application/orchestrator"
	"github.com/alejandrodnm/hilo/internal/application/session"
	"github.com/alejandrodnm/hilo/internal/application/state"
	"github.com/alejandrodnm/hilo/internal/domain"
)

const shutdownTimeout = 5 * time.Second

// app es el grafo de dependencias del cliente.
type app struct {
	cfg *config.Config

	rpc *ethclient.Client
	ws  *ethclient.Client
	db  *storage.SQLiteStorage

	console *notify.Console
	hub     *httpapi.Hub
	agent   *wallet.KeyAgent

	store    *state.Store
	orch     *orchestrator.Orchestrator
	subs     *events.Subscriber
	sessions *session.Manager

	closeOnce sync.Once
}

func newApp(ctx context.Context, cfg *config.Config, table bool) (*app, error) {
	for name, addr := range map[string]string{"contract": cfg.Chain.Contract, "payment asset": cfg.Chain.PaymentAsset} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid %s address %q", name, addr)
		}
	}

	a := &app{cfg: cfg}
	var err error

	a.rpc, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.Chain.RPCURL, err)
	}
	a.ws = a.rpc
	if cfg.Chain.WSURL != cfg.Chain.RPCURL {
		a.ws, err = ethclient.DialContext(ctx, cfg.Chain.WSURL)
		if err != nil {
			a.rpc.Close()
			return nil, fmt.Errorf("dial ws %s: %w", cfg.Chain.WSURL, err)
		}
	}

	a.db, err = storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		a.closeClients()
		return nil, fmt.Errorf("open storage %s: %w", cfg.Storage.DSN, err)
	}

	var prompter wallet.Prompter = wallet.AutoApprove{}
	if !cfg.Wallet.AutoApprove {
		prompter = wallet.NewTerminalPrompter(os.Stdin, os.Stdout)
	}
	a.agent, err = wallet.NewKeyAgent(cfg.Wallet.PrivateKeys, a.rpc, prompter)
	if err != nil {
		a.db.Close()
		a.closeClients()
		return nil, err
	}

	a.console = notify.NewConsole(table)
	a.hub = httpapi.NewHub(originChecker(cfg.Server.AllowedOrigins))
	out := notify.NewFanout(a.console, a.hub)

	contract := common.HexToAddress(cfg.Chain.Contract)
	gateway := onchain.NewGateway(a.rpc, onchain.GatewayConfig{
		ChainID:        cfg.Chain.ID,
		Contract:       contract,
		PaymentAsset:   common.HexToAddress(cfg.Chain.PaymentAsset),
		AssetDecimals:  cfg.Chain.AssetDecimals,
		PollInterval:   cfg.PollInterval(),
		StillPending:   cfg.StillPendingAfter(),
		ReadRatePerSec: cfg.Chain.ReadRatePerSec,
	}, out)

	a.store = state.NewStore(gateway, out)
	a.orch = orchestrator.New(gateway, a.store, out, a.db, orchestrator.Config{
		LowBuyMargin:      cfg.LowBuyMargin(),
		MaxApprovalAmount: cfg.MaxApproval(),
	}).WithClassifier(classify.Classifier{NetworkName: cfg.Chain.NetworkName})
	a.subs = events.New(onchain.NewEventFeed(a.ws, contract), a.store, out)

	a.sessions = session.NewManager(a.agent, a.db, a.store, out, session.Config{
		ChainID:     cfg.Chain.ID,
		NetworkName: cfg.Chain.NetworkName,
		ExplorerURL: cfg.Chain.ExplorerURL,
	})
	a.sessions.OnConnect(func(cctx context.Context, s *session.Session) {
		a.subs.Start(ctx, s.Account())
		if _, err := a.store.Refresh(cctx); err != nil {
			slog.Warn("initial refresh failed", "err", err)
		}
	})
	a.sessions.OnReset(func() {
		a.subs.Stop()
		a.orch.Reset()
	})
	return a, nil
}

// serve expone la API local y corre hasta que ctx se cancela.
func (a *app) serve(ctx context.Context) error {
	go a.agent.WatchChain(ctx, a.cfg.ChainPollInterval())

	if _, err := a.sessions.Resume(ctx); err != nil && !errors.Is(err, session.ErrNoHint) {
		slog.Warn("could not resume previous session", "err", err)
	}

	api := httpapi.NewServer(a.sessions, a.store, a.orch, a.db, a.hub).WithActionTimeout(a.cfg.ActionTimeout())
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.hub.Close()
	return srv.Shutdown(sctx)
}

// runOnce conecta, ejecuta un comando y sale.
func (a *app) runOnce(ctx context.Context, cmd, token string, count uint64) error {
	if cmd == "history" {
		entries, err := a.db.RecentOutcomes(ctx, 20)
		if err != nil {
			return err
		}
		a.console.PrintJournal(entries)
		return nil
	}

	sess, err := a.sessions.Resume(ctx)
	if errors.Is(err, session.ErrNoHint) {
		sess, err = a.sessions.Connect(ctx)
	}
	if err != nil {
		return err
	}

	var out domain.Outcome
	switch cmd {
	case "state":
		snap, err := a.store.Refresh(ctx)
		if err != nil {
			return err
		}
		a.console.PrintState(snap, a.store.Tickets())
		if url := sess.ExplorerURL(); url != "" {
			fmt.Fprintf(os.Stdout, "  Explorer: %s\n", url)
		}
		return nil
	case "approve":
		out, err = a.orch.PreApprove(ctx, sess)
	case "buy", "sell", "queue":
		kind, perr := domain.ParseTokenKind(token)
		if perr != nil {
			return perr
		}
		switch cmd {
		case "buy":
			out, err = a.orch.Buy(ctx, sess, kind, count)
		case "sell":
			out, err = a.orch.Sell(ctx, sess, kind)
		default:
			out, err = a.orch.JoinQueue(ctx, sess, kind)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	if out.Succeeded() {
		return nil
	}
	if out.Err != nil {
		return out.Err
	}
	return fmt.Errorf("%s did not confirm", out.Action.Label())
}

// Close libera todo en orden inverso. Idempotente.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		a.sessions.Close()
		a.subs.Stop()
		a.db.Close()
		a.closeClients()
	})
}

func (a *app) closeClients() {
	if a.ws != nil && a.ws != a.rpc {
		a.ws.Close()
	}
	if a.rpc != nil {
		a.rpc.Close()
	}
}

// originChecker permite los orígenes configurados. Sin lista, sólo el
// mismo host (comportamiento por defecto de gorilla/websocket).
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}
