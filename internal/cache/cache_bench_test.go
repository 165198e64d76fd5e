package cache

import (
	"context"
	"testing"
	"time"
)

func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	c, _ := NewInMemoryCache(DefaultLRUSize)
	ctx := context.Background()
	_ = c.Set(ctx, "k", testEntry(59.91, 10.75), 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "k")
	}
}

func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	c, _ := NewInMemoryCache(DefaultLRUSize)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = c.Get(ctx, "nonexistent")
	}
}

func BenchmarkCodec_Encode(b *testing.B) {
	v := testEntry(59.91, 10.75)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = encodeEntry(v)
	}
}

func BenchmarkCodec_Decode(b *testing.B) {
	raw, _ := encodeEntry(testEntry(59.91, 10.75))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = decodeEntry(raw)
	}
}
