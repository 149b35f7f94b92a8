package order

import (
	"crypto/rand"
	"time"
)

// crockford is Crockford's base32 alphabet: no I, L, O or U.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const numberSuffixLen = 6

// NewNumber returns a human-readable order number, ORD-YYYYMMDD-XXXXXX.
func NewNumber(at time.Time) string {
	var b [numberSuffixLen]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("order: crypto/rand failed: " + err.Error())
	}
	suffix := make([]byte, numberSuffixLen)
	for i, v := range b {
		suffix[i] = crockford[int(v)%len(crockford)]
	}
	return "ORD-" + at.UTC().Format("20060102") + "-" + string(suffix)
}
