package loader

import (
	"github.com/conneroisu/staticpack/internal/graph"
)

// DepKind tags how a dependency specifier is satisfied at require time.
type DepKind int

const (
	// DepSkip yields an empty exports object without fetching anything.
	DepSkip DepKind = iota
	// DepDirectID loads a known artifact from the bundle table.
	DepDirectID
	// DepRaw resolves the specifier through the environment resolver.
	DepRaw
)

func (k DepKind) String() string {
	switch k {
	case DepSkip:
		return "skip"
	case DepDirectID:
		return "id"
	case DepRaw:
		return "specifier"
	default:
		return "unknown"
	}
}

// DepResolution is the precomputed answer for one require specifier.
type DepResolution struct {
	Kind      DepKind
	ID        string
	Specifier string
}

// Skip resolves to an empty module.
func Skip() DepResolution { return DepResolution{Kind: DepSkip} }

// DirectID resolves to the artifact with the given table id.
func DirectID(id string) DepResolution { return DepResolution{Kind: DepDirectID, ID: id} }

// Raw resolves specifier lazily.
func Raw(specifier string) DepResolution { return DepResolution{Kind: DepRaw, Specifier: specifier} }

// DependencyMap computes the require strategy of every dependency of asset
// within bundle, keyed by the specifier the asset's code uses.
func DependencyMap(g graph.BundleGraph, bundle *graph.Bundle, asset *graph.Asset) map[string]DepResolution {
	deps := make(map[string]DepResolution)
	for _, dep := range g.Dependencies(asset) {
		key := dep.Key()

		if g.IsDependencySkipped(dep) {
			deps[key] = Skip()
			continue
		}

		if ref, ok := g.ReferencedBundle(dep, bundle); ok && ref.IsInline() {
			deps[key] = DirectID(ref.ID)
			continue
		}

		if resolved, ok := g.ResolvedAsset(dep, bundle); ok {
			if resolved.Type != graph.TypeGo {
				deps[key] = Skip()
			} else {
				deps[key] = DirectID(resolved.ID)
			}
			continue
		}

		deps[key] = Raw(dep.Specifier)
	}
	return deps
}
