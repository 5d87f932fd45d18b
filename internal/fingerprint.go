package internal

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// HashBindingValue returns the SHA-256 digest used to compare a bound client
// attribute in constant time.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// Fingerprint derives a stable device id from client signals. Each signal is
// length-prefixed so ("ab", "c") and ("a", "bc") differ. It returns "" when
// every signal is empty.
func Fingerprint(signals ...string) string {
	empty := true
	for _, s := range signals {
		if s != "" {
			empty = false
			break
		}
	}
	if empty {
		return ""
	}

	h := sha256.New()
	var n [4]byte
	for _, s := range signals {
		binary.BigEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))
}
