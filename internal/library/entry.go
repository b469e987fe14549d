// Package library loads, discovers and atomically rewrites knowledge-base
// entries stored in the primary and extended locations.
package library

import (
	"strings"
)

// Location is one of the two mutually exclusive storage locations.
type Location string

const (
	// LocationPrimary is the small, always-loaded set.
	LocationPrimary Location = "primary"
	// LocationExtended is the larger, on-demand set.
	LocationExtended Location = "extended"
)

// Valid returns true if the location is a known value.
func (l Location) Valid() bool {
	return l == LocationPrimary || l == LocationExtended
}

// Field is one metadata key/value pair. Sequence values keep their items in
// List and a comma-joined copy in Value.
type Field struct {
	Key   string
	Value string
	List  []string
}

// IsList reports whether the field was a YAML sequence.
func (f Field) IsList() bool {
	return f.List != nil
}

// Metadata is the ordered frontmatter mapping.
type Metadata []Field

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Field returns the full field for key.
func (m Metadata) Field(key string) (Field, bool) {
	for _, f := range m {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Keys returns the keys in document order.
func (m Metadata) Keys() []string {
	keys := make([]string, len(m))
	for i, f := range m {
		keys[i] = f.Key
	}
	return keys
}

// With returns a copy with key set to value. Existing keys keep their
// position; new keys are appended.
func (m Metadata) With(key, value string) Metadata {
	out := m.clone()
	for i := range out {
		if out[i].Key == key {
			out[i] = Field{Key: key, Value: value}
			return out
		}
	}
	return append(out, Field{Key: key, Value: value})
}

// WithList returns a copy with key set to a sequence value.
func (m Metadata) WithList(key string, items []string) Metadata {
	list := append([]string{}, items...)
	field := Field{Key: key, Value: strings.Join(list, ", "), List: list}
	out := m.clone()
	for i := range out {
		if out[i].Key == key {
			out[i] = field
			return out
		}
	}
	return append(out, field)
}

func (m Metadata) clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for i, f := range m {
		out[i] = Field{Key: f.Key, Value: f.Value}
		if f.List != nil {
			out[i].List = append([]string{}, f.List...)
		}
	}
	return out
}

// RefKind distinguishes links to other entries from links to files.
type RefKind string

const (
	// RefEntry is a [[name]] link to another entry.
	RefEntry RefKind = "entry"
	// RefFile is a relative markdown link to a file.
	RefFile RefKind = "file"
)

// Reference is one link from the body. Resolution happens at load time so
// validators never touch the filesystem.
type Reference struct {
	Target   string
	Kind     RefKind
	Line     int
	Resolved bool
}

// Section is a heading and the lines under it. The preamble before the first
// heading has Level 0.
type Section struct {
	Heading string
	Level   int
	// Line is the 1-based line of the heading in the rendered document.
	Line  int
	Lines []string
}

// Entry is one knowledge-base document. Treat it as immutable: remedies
// produce modified copies with Clone.
type Entry struct {
	Name     string
	Location Location
	Path     string

	Metadata Metadata
	// HasFrontmatter is set when the document opens with a --- fence.
	HasFrontmatter bool
	// FrontmatterError is set when the fenced block is not a YAML mapping.
	FrontmatterError error
	// frontmatterRaw holds the block verbatim when it could not be parsed.
	frontmatterRaw string

	// Body holds the lines after the frontmatter. A trailing newline appears
	// as a final empty element.
	Body []string
	// BodyStart is the 1-based document line of Body[0].
	BodyStart int

	References []Reference
}

// Category returns the metadata category, or "" when unset.
func (e *Entry) Category() string {
	v, _ := e.Metadata.Get("category")
	return strings.TrimSpace(v)
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Metadata = e.Metadata.clone()
	cp.Body = append([]string{}, e.Body...)
	cp.References = append([]Reference{}, e.References...)
	return &cp
}

// WithMetadata returns a copy carrying the given metadata. A copy of an
// entry without frontmatter gains a block.
func (e *Entry) WithMetadata(m Metadata) *Entry {
	cp := e.Clone()
	cp.Metadata = m.clone()
	cp.HasFrontmatter = true
	return cp
}

// WithBody returns a copy carrying the given body lines.
func (e *Entry) WithBody(lines []string) *Entry {
	cp := e.Clone()
	cp.Body = append([]string{}, lines...)
	return cp
}

// LineCount returns the number of body lines, ignoring the empty element a
// trailing newline produces.
func (e *Entry) LineCount() int {
	n := len(e.Body)
	if n > 0 && e.Body[n-1] == "" {
		n--
	}
	return n
}

// DocLine converts a body index to a 1-based document line.
func (e *Entry) DocLine(bodyIndex int) int {
	return e.BodyStart + bodyIndex
}

// Sections splits the body on ATX headings outside code fences.
func (e *Entry) Sections() []Section {
	var sections []Section
	current := Section{Line: e.BodyStart}
	fence := ""
	for i, line := range e.Body {
		if marker, ok := fenceMarker(line); ok {
			if fence == "" {
				fence = marker
			} else if t := strings.TrimSpace(line); strings.HasPrefix(t, fence) && strings.Trim(t, fence[:1]) == "" {
				fence = ""
			}
		}
		if fence == "" {
			if level, heading, ok := parseHeading(line); ok {
				if current.Level > 0 || len(current.Lines) > 0 {
					sections = append(sections, current)
				}
				current = Section{Heading: heading, Level: level, Line: e.DocLine(i)}
				continue
			}
		}
		current.Lines = append(current.Lines, line)
	}
	if current.Level > 0 || len(current.Lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

// fenceMarker reports whether line opens or closes a fenced code block and
// returns the fence characters.
func fenceMarker(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(trimmed, m) {
			return m, true
		}
	}
	return "", false
}

// parseHeading parses an ATX heading line.
func parseHeading(line string) (int, string, bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#")), true
}

// HeadingLine renders an ATX heading.
func HeadingLine(level int, text string) string {
	return strings.Repeat("#", level) + " " + text
}

// IsFence reports whether line opens or closes a fenced code block.
func IsFence(line string) bool {
	_, ok := fenceMarker(line)
	return ok
}

// ParseHeading is the exported form of the ATX heading parser.
func ParseHeading(line string) (level int, text string, ok bool) {
	return parseHeading(line)
}

// ReplaceSection returns a copy with the lines under heading replaced. The
// heading line itself is kept. An empty heading addresses the text before
// the first heading. The second result is false when no such section exists.
func (e *Entry) ReplaceSection(heading string, lines []string) (*Entry, bool) {
	for _, s := range e.Sections() {
		if s.Heading != heading || (heading == "" && s.Level != 0) {
			continue
		}
		start := s.Line - e.BodyStart
		if s.Level > 0 {
			start++
		}
		end := start + len(s.Lines)
		repl := append([]string{}, lines...)
		if end > start && e.Body[end-1] == "" && (len(repl) == 0 || repl[len(repl)-1] != "") {
			repl = append(repl, "")
		}
		body := append([]string{}, e.Body[:start]...)
		body = append(body, repl...)
		body = append(body, e.Body[end:]...)
		return e.WithBody(body), true
	}
	return nil, false
}
