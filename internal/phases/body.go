package phases

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/pkg/models"
)

// Line budgets. Primary entries are always loaded, so they are held to a
// tighter limit.
const (
	PrimaryLineBudget  = 150
	ExtendedLineBudget = 500
)

type lineKind int

const (
	lineText lineKind = iota
	lineFenceOpen
	lineFenceClose
	lineCode
)

// scanBody visits every body line with its fence context.
func scanBody(e *library.Entry, visit func(i int, line string, kind lineKind)) {
	open := ""
	for i, line := range e.Body {
		trimmed := strings.TrimSpace(line)
		switch {
		case open == "" && library.IsFence(line):
			open = trimmed[:3]
			visit(i, line, lineFenceOpen)
		case open != "" && strings.HasPrefix(trimmed, open) && strings.Trim(trimmed, open[:1]) == "":
			open = ""
			visit(i, line, lineFenceClose)
		case open != "":
			visit(i, line, lineCode)
		default:
			visit(i, line, lineText)
		}
	}
}

type heading struct {
	index int
	level int
	text  string
}

func headings(e *library.Entry) []heading {
	var out []heading
	scanBody(e, func(i int, line string, kind lineKind) {
		if kind != lineText {
			return
		}
		if level, text, ok := library.ParseHeading(line); ok {
			out = append(out, heading{index: i, level: level, text: text})
		}
	})
	return out
}

func checkTitleHeading(e *library.Entry) ([]Issue, error) {
	first := firstContentLine(e)
	if first >= 0 {
		if level, _, ok := library.ParseHeading(e.Body[first]); ok && level == 1 {
			return nil, nil
		}
	}
	line := e.BodyStart
	if first >= 0 {
		line = e.DocLine(first)
	}
	return []Issue{{Message: "entry does not open with a level-1 heading", Location: LineLocation(line)}}, nil
}

func firstContentLine(e *library.Entry) int {
	for i, line := range e.Body {
		if strings.TrimSpace(line) != "" {
			return i
		}
	}
	return -1
}

func fixTitleHeading(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	first := firstContentLine(e)
	if first >= 0 {
		if level, _, ok := library.ParseHeading(e.Body[first]); ok && level == 1 {
			return e.Clone(), nil
		}
	}
	title := library.HeadingLine(1, TitleFor(e.Name))
	var body []string
	if first < 0 {
		body = []string{title, ""}
	} else {
		body = append(body, e.Body[:first]...)
		body = append(body, title, "")
		body = append(body, e.Body[first:]...)
	}
	return e.WithBody(body), nil
}

// TitleFor turns an entry name such as "release-notes" into "Release Notes".
func TitleFor(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return name
	}
	return strings.Join(words, " ")
}

func checkHeadingHierarchy(e *library.Entry) ([]Issue, error) {
	hs := headings(e)
	var issues []Issue
	for i := 1; i < len(hs); i++ {
		prev, cur := hs[i-1].level, hs[i].level
		if cur > prev+1 {
			issues = append(issues, Issue{
				Message:  fmt.Sprintf("heading %q skips from level %d to %d", hs[i].text, prev, cur),
				Location: LineLocation(e.DocLine(hs[i].index)),
			})
		}
	}
	return issues, nil
}

// fixHeadingHierarchy clamps every heading to at most one level below the
// heading before it, as rewritten.
func fixHeadingHierarchy(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	hs := headings(e)
	body := append([]string{}, e.Body...)
	prev := 0
	for i, h := range hs {
		level := h.level
		if i > 0 && level > prev+1 {
			level = prev + 1
			body[h.index] = library.HeadingLine(level, h.text)
		}
		prev = level
	}
	return e.WithBody(body), nil
}

func checkFenceLanguage(e *library.Entry) ([]Issue, error) {
	var issues []Issue
	scanBody(e, func(i int, line string, kind lineKind) {
		if kind != lineFenceOpen {
			return
		}
		if fenceInfo(line) == "" {
			issues = append(issues, Issue{Message: "code fence has no language", Location: LineLocation(e.DocLine(i))})
		}
	})
	return issues, nil
}

func fenceInfo(line string) string {
	trimmed := strings.TrimSpace(line)
	return strings.TrimSpace(strings.TrimLeft(trimmed, trimmed[:1]))
}

// resolveFenceLanguage writes the chosen language onto the fence at the
// finding's line.
func resolveFenceLanguage(e *library.Entry, f models.Finding, text string) (*library.Entry, error) {
	lang := strings.TrimSpace(text)
	if lang == "" || strings.ContainsAny(lang, " \t`~") {
		return nil, fmt.Errorf("invalid fence language %q", text)
	}
	t, err := ParseLocation(f.Location)
	if err != nil {
		return nil, err
	}
	idx := t.Line - e.BodyStart
	if t.Kind != TargetLine || idx < 0 || idx >= len(e.Body) {
		return nil, fmt.Errorf("%w: %s", ErrResolutionTarget, f.Location)
	}
	var found bool
	scanBody(e, func(i int, line string, kind lineKind) {
		if i == idx && kind == lineFenceOpen && fenceInfo(line) == "" {
			found = true
		}
	})
	if !found {
		return nil, fmt.Errorf("%w: no bare code fence at %s", ErrResolutionTarget, f.Location)
	}
	body := append([]string{}, e.Body...)
	line := body[idx]
	indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
	body[idx] = indent + strings.TrimSpace(line) + lang
	return e.WithBody(body), nil
}

func checkReferences(e *library.Entry) ([]Issue, error) {
	var issues []Issue
	for _, ref := range e.References {
		if ref.Resolved {
			continue
		}
		issues = append(issues, Issue{
			Message:  fmt.Sprintf("unresolved %s reference %q", ref.Kind, ref.Target),
			Location: LineLocation(ref.Line),
		})
	}
	return issues, nil
}

var (
	placeholderRe = regexp.MustCompile(`(?i)\b(TODO|TBD|FIXME)\b|lorem ipsum|<placeholder>|\{\{[^}]*\}\}`)
	inlineCodeRe  = regexp.MustCompile("`[^`]*`")
)

func checkPlaceholders(e *library.Entry) ([]Issue, error) {
	var issues []Issue
	section := ""
	scanBody(e, func(i int, line string, kind lineKind) {
		if kind != lineText {
			return
		}
		if _, text, ok := library.ParseHeading(line); ok {
			section = text
		}
		stripped := inlineCodeRe.ReplaceAllString(line, "")
		if m := placeholderRe.FindString(stripped); m != "" {
			issues = append(issues, Issue{
				Message:  fmt.Sprintf("placeholder %q on line %d", m, e.DocLine(i)),
				Location: SectionLocation(section),
			})
		}
	})
	return issues, nil
}

func checkLineBudget(e *library.Entry) ([]Issue, error) {
	budget := ExtendedLineBudget
	if e.Location == library.LocationPrimary {
		budget = PrimaryLineBudget
	}
	if n := e.LineCount(); n > budget {
		return []Issue{{
			Message:  fmt.Sprintf("entry has %d lines, budget for %s entries is %d", n, e.Location, budget),
			Location: LocationBody,
		}}, nil
	}
	return nil, nil
}

func checkTrailingWhitespace(e *library.Entry) ([]Issue, error) {
	first, count := -1, 0
	for i, line := range e.Body {
		if line != strings.TrimRight(line, " \t") {
			if first < 0 {
				first = i
			}
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}
	return []Issue{{
		Message:  fmt.Sprintf("%d line(s) have trailing whitespace", count),
		Location: LineLocation(e.DocLine(first)),
	}}, nil
}

func fixTrailingWhitespace(e *library.Entry, _ models.Finding) (*library.Entry, error) {
	body := make([]string, len(e.Body))
	for i, line := range e.Body {
		body[i] = strings.TrimRight(line, " \t")
	}
	return e.WithBody(body), nil
}
