package referral

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	codePrefix      = "REF_"
	codeLength      = 8
	codeCharset     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts = 10
)

// generateCode draws a fresh referral code from a CSPRNG. Uniqueness is
// checked by the caller against the store.
func generateCode() (string, error) {
	max := big.NewInt(int64(len(codeCharset)))

	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		buf[i] = codeCharset[n.Int64()]
	}
	return codePrefix + string(buf), nil
}
