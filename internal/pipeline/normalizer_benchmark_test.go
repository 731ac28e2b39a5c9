package pipeline

import (
	"context"
	"testing"

	"github.com/dunamismax/avatarcrop/internal/domain"
)

func BenchmarkNormalizeSquareCrop(b *testing.B) {
	source := BytesSource{Data: buildTestPNG(b, 1920, 1080)}
	crop := &domain.CropRect{X: 420, Y: 0, Width: 1080, Height: 1080}
	n := NewNormalizer()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(), source, crop); err != nil {
			b.Fatalf("normalize: %v", err)
		}
	}
}

func BenchmarkNormalizeFullFrame(b *testing.B) {
	source := BytesSource{Data: buildTestPNG(b, 1920, 1080)}
	n := NewNormalizer()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := n.Normalize(context.Background(), source, nil); err != nil {
			b.Fatalf("normalize: %v", err)
		}
	}
}
