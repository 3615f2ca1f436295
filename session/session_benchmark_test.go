package session

import (
	"context"
	"io"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func benchmarkReaders(b *testing.B, readers int) {
	data := randomData(8 << 20)
	cfg := testConfig()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		src := &memSource{data: data}
		s := New(context.Background(), src.factory(), cfg, zap.NewNop())

		g := new(errgroup.Group)
		for j := 0; j < readers; j++ {
			r, ok := s.NewReader(0)
			if !ok {
				b.Fatal("reader refused")
			}
			g.Go(func() error {
				defer r.Close()
				_, err := io.Copy(io.Discard, r)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			b.Fatal(err)
		}
		closeAndWait(s)
	}
}

func BenchmarkSessionOneReader(b *testing.B)   { benchmarkReaders(b, 1) }
func BenchmarkSessionFourReaders(b *testing.B) { benchmarkReaders(b, 4) }
