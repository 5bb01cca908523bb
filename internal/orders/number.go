package orders

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	orderNumberSuffixLen = 9
	base36Alphabet       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewOrderNumber renders ORD-<unix-ms>-<9 uppercase base36 chars>.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), randomBase36(orderNumberSuffixLen))
}

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// clock fallback
			idx = big.NewInt(time.Now().UnixNano() % int64(len(base36Alphabet)))
		}
		out[i] = base36Alphabet[idx.Int64()]
	}
	return string(out)
}
