package domain

import (
	"fmt"
	"strings"
)

// TokenKind identifies one of the two tradeable game tokens.
// The numeric value is the token ID used by the HILO contract.
type TokenKind uint8

const (
	TokenHigh TokenKind = 0
	TokenLow  TokenKind = 1
)

// TokenKinds lists every token kind in contract ID order.
var TokenKinds = [2]TokenKind{TokenHigh, TokenLow}

// Valid reports whether k is one of the two game tokens.
func (k TokenKind) Valid() bool {
	return k == TokenHigh || k == TokenLow
}

func (k TokenKind) String() string {
	switch k {
	case TokenHigh:
		return "Hi"
	case TokenLow:
		return "Lo"
	default:
		return fmt.Sprintf("token(%d)", uint8(k))
	}
}

// PriceDirection is the way trading pressure moves this token's price:
// Hi only ever goes down, Lo only ever goes up.
func (k TokenKind) PriceDirection() string {
	if k == TokenHigh {
		return "decreased"
	}
	return "increased"
}

// ParseTokenKind accepts "hi"/"lo", "high"/"low" or the contract IDs "0"/"1".
func ParseTokenKind(s string) (TokenKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hi", "high", "0":
		return TokenHigh, nil
	case "lo", "low", "1":
		return TokenLow, nil
	}
	return 0, fmt.Errorf("unknown token %q (want hi or lo)", s)
}

// TokenMetadata is the ERC-1155 metadata document served for each token ID.
type TokenMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// MetadataFor returns the metadata for a contract token ID. Unknown IDs get an
// empty document rather than an error, matching what wallets expect.
func MetadataFor(id int64) TokenMetadata {
	switch id {
	case int64(TokenHigh):
		return TokenMetadata{
			Name:        "HI",
			Description: "The Hi token",
			Image:       "ipfs://bafkreihguk3zwpsyw44hkbdbkug2bxqr5wnajvb45gquhsee6tasax2fk4",
		}
	case int64(TokenLow):
		return TokenMetadata{
			Name:        "LO",
			Description: "The Lo token",
			Image:       "ipfs://bafkreiexyrbmtvcbm4lktx2p2ktsog72txfwkdz3i6mmvoenxgjj6hwdlu",
		}
	}
	return TokenMetadata{}
}
