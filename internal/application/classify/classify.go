// Package classify turns raw wallet and contract failures into the closed set
// of categories the UI understands. It is the only place that looks inside
// an error.
package classify

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/tidwall/gjson"

	"github.com/alejandrodnm/hilo/internal/domain"
	"github.com/alejandrodnm/hilo/internal/ports"
)

// CodeUserRejected is the EIP-1193 code for a request the user refused.
const CodeUserRejected = 4001

const (
	msgRejected        = "It looks like you rejected the transaction. Try again?"
	msgConnectRejected = "Request to connect rejected. Please try again."
	msgUnknown         = "Something went wrong. Try again?"
	msgGameOver        = "The game is over, someone won!"
)

// revertReasons are matched in order against every reason found in the error.
var revertReasons = []struct {
	reason   string
	category domain.ErrorCategory
	message  string
}{
	{"ERC20: transfer amount exceeds allowance", domain.ErrAllowanceExceeded,
		"It looks like you need to approve sending HILO some USDC. Approve that, and then try again?"},
	{"ERC20: transfer amount exceeds balance", domain.ErrBalanceExceeded,
		"It looks like you are short some USDC. Top up and try again?"},
	{"Insufficient USDC balance.", domain.ErrBalanceExceeded,
		"It appears you don't have enough USDC. Get some and come back!"},
	{"HILO: cannot sell when the sale is locked", domain.ErrSaleLocked,
		"Selling at this price is locked. Try again later, or join the queue to sell as soon as it opens."},
	{"Pausable: paused", domain.ErrGamePaused, msgGameOver},
	{"Game is paused.", domain.ErrGamePaused, msgGameOver},
}

// Classifier maps errors to ClassifiedErrors. The zero value is usable.
type Classifier struct {
	// NetworkName is shown when the wallet is on the wrong network.
	NetworkName string
}

// Default is the classifier used by the package-level helpers.
var Default = Classifier{NetworkName: "Mumbai"}

// Classify is Default.Classify.
func Classify(err error) *domain.ClassifiedError { return Default.Classify(err) }

// ClassifyConnect is Default.ClassifyConnect.
func ClassifyConnect(err error) *domain.ClassifiedError { return Default.ClassifyConnect(err) }

// Classify maps a failure from a transaction or read to exactly one
// category. A nil error is not a failure and yields nil.
func (c Classifier) Classify(err error) *domain.ClassifiedError {
	return c.classify(err, msgRejected)
}

// ClassifyConnect is Classify with the wording used for connection requests.
func (c Classifier) ClassifyConnect(err error) *domain.ClassifiedError {
	return c.classify(err, msgConnectRejected)
}

func (c Classifier) classify(err error, rejectedMsg string) *domain.ClassifiedError {
	if err == nil {
		return nil
	}

	var already *domain.ClassifiedError
	if errors.As(err, &already) {
		return already
	}

	if isUserRejection(err) {
		return domain.NewClassifiedError(domain.ErrUserRejected, rejectedMsg, err)
	}

	if errors.Is(err, ports.ErrWrongNetwork) {
		name := c.NetworkName
		if name == "" {
			name = "the supported"
		}
		return domain.NewClassifiedError(domain.ErrNetworkMismatch,
			"Please switch to the "+name+" network to play.", err)
	}

	for _, reason := range reasonsOf(err) {
		for _, r := range revertReasons {
			if strings.Contains(reason, r.reason) {
				return domain.NewClassifiedError(r.category, r.message, err)
			}
		}
	}

	return domain.NewClassifiedError(domain.ErrUnknown, msgUnknown, err)
}

// isUserRejection looks for code 4001 on any error in the chain and in any
// JSON payload embedded in the message.
func isUserRejection(err error) bool {
	var coded rpc.Error
	if errors.As(err, &coded) && coded.ErrorCode() == CodeUserRejected {
		return true
	}
	for _, payload := range jsonPayloads(err.Error()) {
		for _, path := range []string{"code", "error.code", "data.originalError.code"} {
			if gjson.Get(payload, path).Int() == CodeUserRejected {
				return true
			}
		}
	}
	return false
}

// reasonsOf collects every textual revert reason carried by err: the
// message chain itself, ABI-encoded revert data and JSON error bodies.
func reasonsOf(err error) []string {
	out := []string{err.Error()}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		switch data := dataErr.ErrorData().(type) {
		case string:
			if r, ok := unpackRevert(data); ok {
				out = append(out, r)
			} else {
				out = append(out, data)
			}
		case []byte:
			if r, uerr := abi.UnpackRevert(data); uerr == nil {
				out = append(out, r)
			}
		}
	}

	for _, payload := range jsonPayloads(err.Error()) {
		for _, path := range []string{"reason", "message", "error.message", "error.data.message", "data.message"} {
			if v := gjson.Get(payload, path); v.Exists() {
				out = append(out, v.String())
			}
		}
		if v := gjson.Get(payload, "error.data"); v.Type == gjson.String {
			if r, ok := unpackRevert(v.String()); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

// unpackRevert decodes a hex Error(string) payload.
func unpackRevert(s string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) < 4 {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}

// jsonPayloads extracts the JSON objects embedded in an error message, such
// as the bodies some wallets and RPC gateways attach.
func jsonPayloads(msg string) []string {
	var out []string
	for i := strings.IndexByte(msg, '{'); i >= 0 && i < len(msg); {
		end := strings.LastIndexByte(msg, '}')
		if end <= i {
			break
		}
		if candidate := msg[i : end+1]; gjson.Valid(candidate) {
			out = append(out, candidate)
			break
		}
		next := strings.IndexByte(msg[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return out
}
