package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/hilo/internal/adapters/httpapi"
	"github.com/alejandrodnm/hilo/internal/application/orchestrator"
	"github.com/alejandrodnm/hilo/internal/application/session"
	"github.com/alejandrodnm/hilo/internal/application/state"
	"github.com/alejandrodnm/hilo/internal/test/fakes"
)

const mumbai = int64(80001)

var alice = common.HexToAddress("0xA11CE")

type harness struct {
	ledger  *fakes.Ledger
	wallet  *fakes.Wallet
	journal *fakes.Journal
	hub     *httpapi.Hub
	srv     *httptest.Server
}

func newHarness(t *testing.T, chainID int64) *harness {
	t.Helper()
	h := &harness{
		ledger:  fakes.NewLedger(5, 2),
		wallet:  fakes.NewWallet(alice, chainID),
		journal: &fakes.Journal{},
		hub:     httpapi.NewHub(nil),
	}
	store := state.NewStore(h.ledger, h.hub)
	mgr := session.NewManager(h.wallet, &fakes.HintStore{}, store, h.hub, session.Config{
		ChainID:     mumbai,
		NetworkName: "Mumbai",
		ExplorerURL: "https://mumbai.polygonscan.com/address/",
	})
	orch := orchestrator.New(h.ledger, store, h.hub, h.journal, orchestrator.DefaultConfig())
	mgr.OnReset(orch.Reset)

	api := httpapi.NewServer(mgr, store, orch, h.journal, h.hub).WithActionTimeout(5 * time.Second)
	h.srv = httptest.NewServer(api.Router())
	t.Cleanup(func() {
		h.hub.Close()
		h.srv.Close()
		mgr.Close()
	})
	return h
}

func (h *harness) do(t *testing.T, method, path string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, h.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, mumbai)
	resp, body := h.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestState_NoWallet(t *testing.T) {
	h := newHarness(t, mumbai)
	resp, body := h.do(t, http.MethodGet, "/api/state")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NO_WALLET", body["page"])
	assert.Nil(t, body["session"])
	assert.Nil(t, body["game"])
}

func TestConnectThenState(t *testing.T) {
	h := newHarness(t, mumbai)

	resp, body := h.do(t, http.MethodPost, "/api/connect")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, alice.Hex(), body["account"])
	assert.Equal(t, "https://mumbai.polygonscan.com/address/"+alice.Hex(), body["explorer"])

	resp, body = h.do(t, http.MethodGet, "/api/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "READY", body["page"])
	game, ok := body["game"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 5, game["PriceHigh"])
	assert.EqualValues(t, 2, game["PriceLow"])
	assert.Equal(t, true, body["needs_approval"])
}

func TestConnect_WrongNetwork(t *testing.T) {
	h := newHarness(t, 1)

	resp, body := h.do(t, http.MethodPost, "/api/connect")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NETWORK_MISMATCH", body["category"])
	assert.Equal(t, "Please switch to the Mumbai network to play.", body["message"])
	assert.Equal(t, false, body["actionable"])

	_, body = h.do(t, http.MethodGet, "/api/state")
	assert.Equal(t, "NO_WALLET", body["page"])
}

func TestConnect_Rejected(t *testing.T) {
	h := newHarness(t, mumbai)
	h.wallet.ConnectErr = fakes.Rejection{}

	resp, body := h.do(t, http.MethodPost, "/api/connect")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "USER_REJECTED", body["category"])
}

func TestActionsRequireSession(t *testing.T) {
	h := newHarness(t, mumbai)

	resp, body := h.do(t, http.MethodPost, "/api/tokens/lo/buy")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "NO_SESSION", body["category"])
	assert.Empty(t, h.ledger.Writes())
}

func TestBuyThenSellLocked(t *testing.T) {
	h := newHarness(t, mumbai)
	h.do(t, http.MethodPost, "/api/connect")

	resp, body := h.do(t, http.MethodPost, "/api/tokens/lo/buy?count=1")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "CONFIRMED", body["stage"])
	assert.Contains(t, h.ledger.Writes(), "buy Lo 1")

	resp, body = h.do(t, http.MethodPost, "/api/tokens/lo/sell")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "SALE_LOCKED", body["category"])
	assert.Equal(t, true, body["actionable"])
	assert.NotNil(t, body["outcome"])

	resp, body = h.do(t, http.MethodPost, "/api/tokens/lo/queue")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Contains(t, h.ledger.Writes(), "queue Lo")

	entries, err := h.journal.RecentOutcomes(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestBuy_BadRequests(t *testing.T) {
	h := newHarness(t, mumbai)
	h.do(t, http.MethodPost, "/api/connect")

	resp, body := h.do(t, http.MethodPost, "/api/tokens/lo/buy?count=2")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", body["category"])

	resp, _ = h.do(t, http.MethodPost, "/api/tokens/mid/buy")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/tokens/hi/sell")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "nothing to sell")

	assert.Empty(t, h.ledger.Writes())
}

func TestDismissNothingPending(t *testing.T) {
	h := newHarness(t, mumbai)
	resp, _ := h.do(t, http.MethodDelete, "/api/tokens/hi/pending")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTokenMetadata(t *testing.T) {
	h := newHarness(t, mumbai)

	resp, body := h.do(t, http.MethodGet, "/api/tokens/0")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HI", body["name"])

	resp, body = h.do(t, http.MethodGet, "/api/tokens/9")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "", body["name"])
}

func TestWebsocketReplaysState(t *testing.T) {
	h := newHarness(t, mumbai)
	h.do(t, http.MethodPost, "/api/connect")

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	assert.EqualValues(t, 5, msg.Payload["PriceHigh"])

	require.Eventually(t, func() bool { return h.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	h.do(t, http.MethodPost, "/api/approve")
	seen := map[string]bool{}
	for !seen["outcome"] {
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg.Type] = true
	}
	assert.True(t, seen["pending"])
}
