package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/phases"
)

// ApplyRewrite places opaque replacement text at target.
func ApplyRewrite(e *library.Entry, target, text string) (*library.Entry, error) {
	t, err := phases.ParseLocation(target)
	if err != nil {
		return nil, err
	}
	switch t.Kind {
	case phases.TargetMetadata:
		if e.FrontmatterError != nil {
			return nil, fmt.Errorf("%w: %s", phases.ErrUnparseableMetadata, e.Name)
		}
		return e.WithMetadata(e.Metadata.With(t.Name, strings.TrimSpace(text))), nil
	case phases.TargetSection:
		updated, ok := e.ReplaceSection(t.Name, splitText(text))
		if !ok {
			return nil, fmt.Errorf("%w: section %q", phases.ErrResolutionTarget, t.Name)
		}
		return updated, nil
	case phases.TargetBody:
		return e.WithBody(append(splitText(text), "")), nil
	default:
		return nil, fmt.Errorf("%w: rewrites cannot target %q", phases.ErrResolutionTarget, target)
	}
}

func splitText(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}
