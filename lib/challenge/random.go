package challenge

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

// RandomString draws n characters uniformly from alphabet using the system
// CSPRNG.
func RandomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)

	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("can't read random data: %w", err)
		}
		buf[i] = alphabet[idx.Int64()]
	}

	return string(buf), nil
}

// RandomHex returns n random bytes hex-encoded.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("can't read random data: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
