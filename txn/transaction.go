// Package txn implements the transaction processor: parsing the two wire
// transaction shapes, enforcing balance preconditions, and routing
// money-transfer transactions to the ordered-tx log and signed-state
// transactions to the checkpoint manager.
package txn

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/prisma-node/prisma/crypto"
)

// Type discriminates the two wire transaction shapes.
type Type int

const (
	TypeMoneyTransfer Type = 0
	TypeSignedState   Type = 1
)

// maxAmount is 2^63-1, the wire format's upper bound on a transfer amount.
const maxAmount = uint64(1<<63 - 1)

// Errors returned by Parse; callers distinguish malformed transactions
// (rejected at the pool gate) from storage/engine failures.
var (
	ErrMalformedJSON     = errors.New("txn: malformed transaction payload")
	ErrUnknownType       = errors.New("txn: unknown transaction type")
	ErrBadAddress        = errors.New("txn: malformed address")
	ErrBadPublicKey      = errors.New("txn: malformed public key")
	ErrAmountOutOfRange  = errors.New("txn: amount out of range")
	ErrInsufficientFunds = errors.New("txn: insufficient funds")
)

// MoneyTransfer is a type=0 transaction.
type MoneyTransfer struct {
	Type            Type    `json:"type"`
	Amount          uint64  `json:"amount"`
	SenderPublicKey string  `json:"senderPublicKey"`
	SenderID        string  `json:"senderId"`
	RecipientID     string  `json:"recipientId"`
	Timestamp       float64 `json:"timestamp"`
}

// SignedState is a type=1 transaction: a peer's signature over a checkpoint
// boundary. Signed is the hex-encoded attached signature blob over the
// JSON-serialized {"last_round":..,"hash":..} pair.
type SignedState struct {
	Type      Type   `json:"type"`
	LastRound int    `json:"last_round"`
	Hash      string `json:"hash"`
	VerifyKey string `json:"verify_key"`
	Signed    string `json:"signed"`
}

// SignedPayload is the message signed inside SignedState.Signed.
type SignedPayload struct {
	LastRound int    `json:"last_round"`
	Hash      string `json:"hash"`
}

type typeProbe struct {
	Type Type `json:"type"`
}

// HexEncode renders a transaction as the hex-encoded JSON blob the wire
// format (and event payloads) carry.
func HexEncode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return hex.EncodeToString(data), nil
}

// Parse decodes a hex-encoded transaction blob and returns either a
// *MoneyTransfer or a *SignedState after syntactic validation. A nil
// BalanceReader skips the balance check, for transactions (such as genesis
// allocations) that are exempt from it.
func Parse(txHex string, bal BalanceReader) (any, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	var probe typeProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	switch probe.Type {
	case TypeMoneyTransfer:
		var tx MoneyTransfer
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		if err := validateMoneyTransfer(&tx); err != nil {
			return nil, err
		}
		if bal != nil {
			balance, err := bal.GetBalance(tx.SenderID)
			if err != nil {
				return nil, fmt.Errorf("txn: read sender balance: %w", err)
			}
			if tx.Amount > balance {
				return nil, fmt.Errorf("%w: sender %s has %d, needs %d", ErrInsufficientFunds, tx.SenderID, balance, tx.Amount)
			}
		}
		return &tx, nil

	case TypeSignedState:
		var tx SignedState
		if err := json.Unmarshal(raw, &tx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		return &tx, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, probe.Type)
	}
}

// BalanceReader is the minimal balance-lookup surface Parse's soft check
// and the ordering-time authoritative check both use. checkpoint.Manager
// implements it over the accumulator it maintains between checkpoints.
type BalanceReader interface {
	GetBalance(address string) (uint64, error)
}

func validateMoneyTransfer(tx *MoneyTransfer) error {
	if tx.Amount < 1 || tx.Amount > maxAmount {
		return fmt.Errorf("%w: %d", ErrAmountOutOfRange, tx.Amount)
	}
	if err := ValidateAddress(tx.SenderID); err != nil {
		return fmt.Errorf("senderId: %w", err)
	}
	if err := ValidateAddress(tx.RecipientID); err != nil {
		return fmt.Errorf("recipientId: %w", err)
	}
	if err := ValidatePublicKeyHex(tx.SenderPublicKey); err != nil {
		return fmt.Errorf("senderPublicKey: %w", err)
	}
	return nil
}

// ValidateAddress checks the wire address syntax: a decimal digit string
// followed by the literal "PR" suffix, the digits no longer than a uint64's
// 20 decimal places.
func ValidateAddress(addr string) error {
	if !strings.HasSuffix(addr, "PR") {
		return fmt.Errorf("%w: %q missing PR suffix", ErrBadAddress, addr)
	}
	digits := strings.TrimSuffix(addr, "PR")
	if digits == "" || len(digits) > 20 {
		return fmt.Errorf("%w: %q bad length", ErrBadAddress, addr)
	}
	if _, err := strconv.ParseUint(digits, 10, 64); err != nil {
		return fmt.Errorf("%w: %q not decimal", ErrBadAddress, addr)
	}
	return nil
}

// ValidatePublicKeyHex checks that s decodes as a 32-byte ed25519 public
// key rendered as 64 hex characters.
func ValidatePublicKeyHex(s string) error {
	if len(s) != 64 {
		return fmt.Errorf("%w: expected 64 hex chars, got %d", ErrBadPublicKey, len(s))
	}
	if _, err := crypto.PubKeyFromHex(s); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}
	return nil
}
