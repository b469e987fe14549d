package library

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMalformedFrontmatter indicates the fenced block is not a YAML mapping.
	ErrMalformedFrontmatter = errors.New("library: malformed frontmatter")
	// ErrUnterminatedFrontmatter indicates an opening fence with no closing fence.
	ErrUnterminatedFrontmatter = errors.New("library: unterminated frontmatter")
)

const fence = "---"

// Parse builds an entry from document bytes. Parsing never fails: problems
// with the frontmatter are recorded on the entry for validators to report.
// References are extracted but left unresolved.
func Parse(name string, loc Location, path string, content []byte) *Entry {
	text := string(normalizeNewlines(content))
	entry := &Entry{
		Name:      name,
		Location:  loc,
		Path:      path,
		BodyStart: 1,
	}

	if !strings.HasPrefix(text, fence+"\n") && text != fence {
		entry.Body = strings.Split(text, "\n")
		entry.References = extractReferences(entry)
		return entry
	}

	entry.HasFrontmatter = true
	lines := strings.Split(text, "\n")
	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t") == fence {
			closing = i
			break
		}
	}
	if closing < 0 {
		entry.FrontmatterError = ErrUnterminatedFrontmatter
		entry.frontmatterRaw = text
		entry.Body = []string{""}
		entry.BodyStart = len(lines) + 1
		return entry
	}

	block := strings.Join(lines[1:closing], "\n")
	entry.Body = append([]string{}, lines[closing+1:]...)
	if len(entry.Body) == 0 {
		entry.Body = []string{""}
	}
	entry.BodyStart = closing + 2

	meta, err := parseMetadata(block)
	if err != nil {
		entry.FrontmatterError = err
		entry.frontmatterRaw = block
	} else {
		entry.Metadata = meta
	}
	entry.References = extractReferences(entry)
	return entry
}

func parseMetadata(block string) (Metadata, error) {
	if strings.TrimSpace(block) == "" {
		return Metadata{}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrontmatter, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Metadata{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level is not a mapping", ErrMalformedFrontmatter)
	}

	meta := make(Metadata, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		field := Field{Key: key.Value}
		switch val.Kind {
		case yaml.ScalarNode:
			field.Value = val.Value
		case yaml.SequenceNode:
			field.List = []string{}
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%w: %s: nested values are not supported", ErrMalformedFrontmatter, key.Value)
				}
				field.List = append(field.List, item.Value)
			}
			field.Value = strings.Join(field.List, ", ")
		default:
			return nil, fmt.Errorf("%w: %s: nested values are not supported", ErrMalformedFrontmatter, key.Value)
		}
		meta = append(meta, field)
	}
	return meta, nil
}

// Render serializes an entry. Output is a pure function of the entry, so
// rendering twice yields identical bytes.
func Render(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if e.HasFrontmatter {
		if e.FrontmatterError != nil {
			if errors.Is(e.FrontmatterError, ErrUnterminatedFrontmatter) {
				buf.WriteString(e.frontmatterRaw)
				return buf.Bytes(), nil
			}
			buf.WriteString(fence + "\n")
			buf.WriteString(e.frontmatterRaw)
			buf.WriteString("\n" + fence + "\n")
		} else {
			block, err := renderMetadata(e.Metadata)
			if err != nil {
				return nil, err
			}
			buf.WriteString(fence + "\n")
			buf.Write(block)
			buf.WriteString(fence + "\n")
		}
	}
	buf.WriteString(strings.Join(e.Body, "\n"))
	return buf.Bytes(), nil
}

func renderMetadata(meta Metadata) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range meta {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}
		var val *yaml.Node
		if f.IsList() {
			val = &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
			for _, item := range f.List {
				val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: item})
			}
		} else {
			val = &yaml.Node{Kind: yaml.ScalarNode, Value: f.Value}
		}
		root.Content = append(root.Content, key, val)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("library: encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("library: encode frontmatter: %w", err)
	}
	return buf.Bytes(), nil
}

// Reparse renders an entry and parses the result, carrying over the name,
// location and path. Reference resolution is the caller's job.
func Reparse(e *Entry) (*Entry, error) {
	data, err := Render(e)
	if err != nil {
		return nil, err
	}
	return Parse(e.Name, e.Location, e.Path, data), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
