package loader

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/conneroisu/staticpack/internal/graph"
)

// InlineFunc packages an inline bundle to its text contents.
type InlineFunc func(ctx context.Context, bundle *graph.Bundle) (string, error)

// inlineModuleTemplate wraps packaged contents as the default export of a
// pseudo-artifact.
const inlineModuleTemplate = `package inline

import "github.com/conneroisu/staticpack/pkg/modrt"

func Init(m *modrt.Module) error {
	m.Exports["default"] = %s
	return nil
}
`

// InlineModule returns artifact source whose default export is contents.
func InlineModule(contents string) string {
	return fmt.Sprintf(inlineModuleTemplate, strconv.Quote(contents))
}

// DefaultInline returns the prebuilt contents of an inline bundle when the
// graph carries them and otherwise concatenates the code of its assets.
func (s *Session) DefaultInline(ctx context.Context, bundle *graph.Bundle) (string, error) {
	if bundle.Contents != "" {
		return bundle.Contents, nil
	}

	var sb strings.Builder
	for _, id := range bundle.Assets {
		asset, ok := s.Graph().Asset(id)
		if !ok {
			continue
		}
		code, err := s.fetch(ctx, asset)
		if err != nil {
			return "", err
		}
		sb.WriteString(code)
	}
	return sb.String(), nil
}

// inlineEntry packages bundle once per session and wraps it as a
// pseudo-artifact keyed by the bundle id.
func (s *Session) inlineEntry(ctx context.Context, bundle *graph.Bundle) (*Entry, error) {
	contents, _, err := s.packaging.DoContext(ctx, bundle.ID, func(ctx context.Context) (string, error) {
		s.logger.Debug(ctx, "packaging inline bundle", "session", s.ID(), "bundle", bundle.Name)
		return s.inlineFunc()(ctx, bundle)
	})
	if err != nil {
		return nil, fmt.Errorf("packaging inline bundle %s: %w", bundle.Name, err)
	}

	pseudo := &graph.Asset{
		ID:       bundle.ID,
		PublicID: bundle.PublicID,
		FilePath: bundle.Name,
		Type:     graph.TypeGo,
		Env:      bundle.Env,
	}
	if main, ok := s.Graph().MainEntry(bundle); ok {
		pseudo.FilePath = main.FilePath
		pseudo.Env = main.Env
		pseudo.PublicID = s.Graph().AssetPublicID(main)
	}

	return &Entry{Asset: pseudo, Code: InlineModule(contents), Inline: true}, nil
}
