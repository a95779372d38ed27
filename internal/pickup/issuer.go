// Package pickup issues one-time pickup codes. A code lives as a field on its
// loan, so there is nothing to persist or expire independently here; guards
// and consumption belong to the loan service.
package pickup

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// codeBytes yields 32 hex characters, enough that guessing is hopeless while
// the code still fits in a QR scan.
const codeBytes = 16

type Issuer struct{}

func NewIssuer() *Issuer {
	return &Issuer{}
}

// Issue returns a fresh random code. Codes are case-sensitive opaque strings;
// validation is exact match against the owning loan.
func (i *Issuer) Issue() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate pickup code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
