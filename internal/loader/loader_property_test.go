//go:build property

package loader

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/spf13/afero"

	"github.com/conneroisu/staticpack/internal/graph"
)

// TestLoadBundleProperties verifies the outstanding fetch bound for
// arbitrary bundle sizes and limits.
func TestLoadBundleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("outstanding fetches never exceed the limit", prop.ForAll(
		func(assetCount, limit int) bool {
			m := &graph.Manifest{}
			bundle := &graph.Bundle{ID: "b", Name: "b.html", Type: graph.TypeGo}
			for i := 0; i < assetCount; i++ {
				id := fmt.Sprintf("a%d", i)
				bundle.Assets = append(bundle.Assets, id)
				m.Assets = append(m.Assets, &graph.Asset{ID: id, FilePath: "/" + id + ".go", Type: graph.TypeGo})
			}
			m.Bundles = []*graph.Bundle{bundle}

			g, err := graph.New(m, afero.NewMemMapFs(), "/")
			if err != nil {
				return false
			}

			var inFlight, peak, calls int32
			s, err := NewSession(Options{
				Graph:       g,
				Fs:          afero.NewMemMapFs(),
				Concurrency: limit,
				Fetch: func(ctx context.Context, asset *graph.Asset) (string, error) {
					n := atomic.AddInt32(&inFlight, 1)
					defer atomic.AddInt32(&inFlight, -1)
					atomic.AddInt32(&calls, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					return "", nil
				},
			})
			if err != nil {
				return false
			}

			loaded, err := s.LoadBundle(context.Background(), bundle)
			if err != nil {
				return false
			}
			return len(loaded.Assets()) == assetCount &&
				atomic.LoadInt32(&calls) == int32(assetCount) &&
				atomic.LoadInt32(&peak) <= int32(limit)
		},
		gen.IntRange(0, 150),
		gen.IntRange(1, 40),
	))

	properties.TestingRun(t)
}
