package dialogue

import (
	"crypto/rand"
	"math/big"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns "<prefix>_" followed by 8 random lowercase base-36
// characters. Uniqueness is probabilistic, which is sufficient for ids that
// only need to be unique within a process lifetime.
func NewID(prefix string) string {
	buf := make([]byte, 8)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic(err)
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return prefix + "_" + string(buf)
}
