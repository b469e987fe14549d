package phases

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Palette is the set of accepted entry colors.
var Palette = []string{"blue", "cyan", "gray", "green", "orange", "pink", "purple", "red", "yellow"}

// DefaultColor is written when an entry has no valid color.
const DefaultColor = "blue"

// MaxDescription bounds the description length in characters.
const MaxDescription = 1024

var knownKeys = []string{"allowed-tools", "category", "color", "description", "license", "model", "name", "tags", "version"}

var listKeys = []string{"allowed-tools", "tags"}

var knownCategories = []string{"archive", "guide", "reference", "workflow"}

// metadataParsed reports whether metadata checks can run. An entry without a
// block has empty metadata and is checked; an unparseable block is left to
// metadata-schema.
func metadataParsed(e *library.Entry) bool {
	return e.FrontmatterError == nil
}

func editableMetadata(e *library.Entry) error {
	if e.FrontmatterError != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnparseableMetadata, e.Name, e.FrontmatterError)
	}
	return nil
}

func checkFrontmatterBlock(e *library.Entry) ([]Issue, error) {
	if e.HasFrontmatter {
		return nil, nil
	}
	return []Issue{{Message: "entry has no frontmatter block", Location: LineLocation(1)}}, nil
}

func fixFrontmatterBlock(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	if e.HasFrontmatter {
		return e.Clone(), nil
	}
	return e.WithMetadata(library.Metadata{}), nil
}

func checkNameField(e *library.Entry) ([]Issue, error) {
	if !metadataParsed(e) {
		return nil, nil
	}
	v, ok := e.Metadata.Get("name")
	switch {
	case !ok || strings.TrimSpace(v) == "":
		return []Issue{{Message: "missing required field name", Location: MetadataLocation("name")}}, nil
	case v != e.Name:
		return []Issue{{
			Message:  fmt.Sprintf("name %q does not match entry name %q", v, e.Name),
			Location: MetadataLocation("name"),
		}}, nil
	}
	return nil, nil
}

func fixNameField(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	if err := editableMetadata(e); err != nil {
		return nil, err
	}
	return e.WithMetadata(e.Metadata.With("name", e.Name)), nil
}

func checkColorField(e *library.Entry) ([]Issue, error) {
	if !metadataParsed(e) {
		return nil, nil
	}
	v, ok := e.Metadata.Get("color")
	v = strings.TrimSpace(v)
	switch {
	case !ok || v == "":
		return []Issue{{Message: "missing required field color", Location: MetadataLocation("color")}}, nil
	case !slices.Contains(Palette, v):
		return []Issue{{
			Message:  fmt.Sprintf("color %q is not one of %s", v, strings.Join(Palette, ", ")),
			Location: MetadataLocation("color"),
		}}, nil
	}
	return nil, nil
}

func fixColorField(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	if err := editableMetadata(e); err != nil {
		return nil, err
	}
	v, _ := e.Metadata.Get("color")
	if slices.Contains(Palette, strings.TrimSpace(v)) {
		return e.WithMetadata(e.Metadata.With("color", strings.TrimSpace(v))), nil
	}
	return e.WithMetadata(e.Metadata.With("color", DefaultColor)), nil
}

func checkDescriptionField(e *library.Entry) ([]Issue, error) {
	if !metadataParsed(e) {
		return nil, nil
	}
	v, ok := e.Metadata.Get("description")
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return []Issue{{Message: "missing required field description", Location: MetadataLocation("description")}}, nil
	}
	if n := utf8.RuneCountInString(v); n > MaxDescription {
		return []Issue{{
			Message:  fmt.Sprintf("description is %d characters, limit is %d", n, MaxDescription),
			Location: MetadataLocation("description"),
		}}, nil
	}
	return nil, nil
}

var triggerPhrases = []string{"use when", "use this when", "use for", "invoke when"}

func checkDescriptionTrigger(e *library.Entry) ([]Issue, error) {
	if !metadataParsed(e) {
		return nil, nil
	}
	v, _ := e.Metadata.Get("description")
	lower := strings.ToLower(strings.TrimSpace(v))
	if lower == "" {
		return nil, nil
	}
	for _, p := range triggerPhrases {
		if strings.Contains(lower, p) {
			return nil, nil
		}
	}
	return []Issue{{
		Message:  "description does not say when to use the entry",
		Location: MetadataLocation("description"),
	}}, nil
}

// normalizeTools splits, trims and de-duplicates allowed-tools items.
func normalizeTools(f library.Field) []string {
	raw := f.List
	if !f.IsList() {
		raw = strings.Split(f.Value, ",")
	}
	out := []string{}
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item == "" || slices.Contains(out, item) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func checkAllowedTools(e *library.Entry) ([]Issue, error) {
	if !metadataParsed(e) {
		return nil, nil
	}
	f, ok := e.Metadata.Field("allowed-tools")
	if !ok {
		return nil, nil
	}
	loc := MetadataLocation("allowed-tools")
	if !f.IsList() {
		return []Issue{{Message: "allowed-tools should be a list, not a comma-separated string", Location: loc}}, nil
	}
	var issues []Issue
	seen := make(map[string]bool)
	for _, item := range f.List {
		trimmed := strings.TrimSpace(item)
		switch {
		case trimmed == "":
			issues = append(issues, Issue{Message: "allowed-tools has an empty item", Location: loc})
		case seen[trimmed]:
			issues = append(issues, Issue{Message: fmt.Sprintf("allowed-tools lists %q more than once", trimmed), Location: loc})
		case trimmed != item:
			issues = append(issues, Issue{Message: fmt.Sprintf("allowed-tools item %q has surrounding whitespace", item), Location: loc})
		}
		seen[trimmed] = true
	}
	return dedupeIssues(issues), nil
}

func fixAllowedTools(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	if err := editableMetadata(e); err != nil {
		return nil, err
	}
	f, ok := e.Metadata.Field("allowed-tools")
	if !ok {
		return e.Clone(), nil
	}
	return e.WithMetadata(e.Metadata.WithList("allowed-tools", normalizeTools(f))), nil
}

func checkMetadataSchema(e *library.Entry) ([]Issue, error) {
	if e.FrontmatterError != nil {
		msg := fmt.Sprintf("frontmatter is not valid: %v", e.FrontmatterError)
		return []Issue{{Message: msg, Location: LineLocation(1), Severity: models.SeverityCritical}}, nil
	}
	var issues []Issue
	for _, f := range e.Metadata {
		loc := MetadataLocation(f.Key)
		switch {
		case !slices.Contains(knownKeys, f.Key):
			issues = append(issues, Issue{Message: fmt.Sprintf("unknown metadata key %q", f.Key), Location: loc})
		case slices.Contains(listKeys, f.Key):
			// list shape is checked by allowed-tools-format; tags may be either
		case f.IsList():
			issues = append(issues, Issue{Message: fmt.Sprintf("metadata key %q must be a single value", f.Key), Location: loc})
		case f.Key == "category" && !slices.Contains(knownCategories, strings.TrimSpace(f.Value)):
			issues = append(issues, Issue{
				Message:  fmt.Sprintf("category %q is not one of %s", f.Value, strings.Join(knownCategories, ", ")),
				Location: loc,
			})
		}
	}
	return issues, nil
}

func dedupeIssues(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if !slices.Contains(out, is) {
			out = append(out, is)
		}
	}
	return out
}
