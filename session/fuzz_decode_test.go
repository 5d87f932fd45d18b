package session

import (
	"testing"
	"time"

	"github.com/MrEthical07/goSession/permission"
)

// FuzzSessionDecode exercises the binary session decoder with arbitrary inputs.
// Goal: no panics, graceful error handling.
func FuzzSessionDecode(f *testing.F) {
	now := time.UnixMilli(1700000000000)
	sess := &Session{
		UserID:      "user1",
		Role:        "admin",
		Permissions: permission.NewSet("docs:read", "docs:write"),
		TokenHash:   HashToken("tok"),
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
		Metadata: Metadata{
			IP:         "203.0.113.9",
			UserAgent:  "fuzz/1.0",
			DeviceID:   "dev",
			LastActive: now,
		},
		Revision: 3,
	}
	encoded, err := Encode(sess)
	if err == nil {
		f.Add(encoded)
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{CurrentSchemaVersion, 255, 255})

	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 40 {
		f.Add(encoded[:40])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		if _, err := Encode(s); err != nil {
			t.Fatalf("re-encode of decoded session failed: %v", err)
		}
	})
}
