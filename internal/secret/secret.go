// ABOUTME: Generates the per-instance shared secret used to authenticate daemon requests.
// ABOUTME: Draws from crypto/rand only; a weak-PRNG fallback is deliberately not provided.

package secret

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Length is the number of characters in a generated secret.
const Length = 32

// alphabet is the set of characters a secret is drawn from. Alphanumeric
// only so the value is safe in environment variables and HTTP headers.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a new random shared secret. The secret is the sole
// authentication factor for the local daemon channel, so failure of the
// secure random source is an error, never a silent fallback.
func Generate() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, Length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("reading secure random source: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
