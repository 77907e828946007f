// Package evm normalizes the EVM identifiers the authorization core compares:
// contract addresses and 4-byte method selectors.
package evm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/org/sessionguard/pkg/models"
)

var (
	// ErrInvalidAddress is returned for anything that is not 20 hex-encoded bytes.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidSelector is returned for malformed selectors or function signatures.
	ErrInvalidSelector = errors.New("invalid method selector")
)

// NormalizeAddress lowercases and validates a 0x-prefixed 20-byte address.
// Checksum casing is not verified; addresses are compared case-insensitively.
func NormalizeAddress(s string) (models.Address, error) {
	s = strings.TrimSpace(s)
	body, ok := cutHexPrefix(s)
	if !ok || len(body) != 40 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return models.Address("0x" + strings.ToLower(body)), nil
}

// NormalizeAddresses normalizes every entry, failing on the first bad one.
func NormalizeAddresses(in []string) ([]models.Address, error) {
	out := make([]models.Address, 0, len(in))
	for _, s := range in {
		a, err := NormalizeAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseSelector accepts either a raw selector ("0xa9059cbb") or a function
// signature ("transfer(address,uint256)") and returns the canonical selector.
func ParseSelector(s string) (models.Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSelector)
	}
	if strings.Contains(s, "(") {
		return SelectorFromSignature(s)
	}
	body, ok := cutHexPrefix(s)
	if !ok || len(body) != 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	return models.Selector("0x" + strings.ToLower(body)), nil
}

// ParseSelectors parses every entry, failing on the first bad one.
func ParseSelectors(in []string) ([]models.Selector, error) {
	out := make([]models.Selector, 0, len(in))
	for _, s := range in {
		sel, err := ParseSelector(s)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// SelectorFromSignature returns the first four bytes of keccak256(signature).
// Whitespace is stripped before hashing, so "transfer(address, uint256)" and
// "transfer(address,uint256)" agree.
func SelectorFromSignature(sig string) (models.Selector, error) {
	sig = strings.Join(strings.Fields(sig), "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSelector, sig)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	sum := h.Sum(nil)
	return models.Selector("0x" + hex.EncodeToString(sum[:4])), nil
}

func cutHexPrefix(s string) (string, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:], true
	}
	return "", false
}
