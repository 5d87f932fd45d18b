package session

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/permission"
)

func BenchmarkStoreValidateCacheHit(b *testing.B) {
	s := NewStore(NewMemoryRepository(), StoreConfig{TTL: time.Hour})
	ctx := context.Background()
	sess, err := s.Create(ctx, CreateParams{UserID: "u-1", Role: "member", Permissions: permission.NewSet("docs:read")})
	if err != nil {
		b.Fatalf("create: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := s.Validate(ctx, sess.ID); err != nil {
				b.Errorf("validate: %v", err)
				return
			}
		}
	})
}

// Every iteration misses the cache and shares nothing with its neighbours.
func BenchmarkStoreValidateColdRead(b *testing.B) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	writer := NewStore(repo, StoreConfig{TTL: time.Hour})
	sess, err := writer.Create(ctx, CreateParams{UserID: "u-1", Role: "member"})
	if err != nil {
		b.Fatalf("create: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		reader := NewStore(repo, StoreConfig{TTL: time.Hour})
		b.StartTimer()
		if _, err := reader.Validate(ctx, sess.ID); err != nil {
			b.Fatalf("validate: %v", err)
		}
	}
}
