package library

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	markdownLinkRe = regexp.MustCompile(`\[[^\]]*\]\(([^)\s]+)(?:\s+"[^"]*")?\)`)
	wikiLinkRe     = regexp.MustCompile(`\[\[([^\]|#]+)(?:[#|][^\]]*)?\]\]`)
	inlineCodeRe   = regexp.MustCompile("`[^`]*`")
)

// extractReferences collects links outside code fences and inline code.
// The result is sorted by target and de-duplicated, keeping the first line
// each target appears on.
func extractReferences(e *Entry) []Reference {
	seen := make(map[string]bool)
	var refs []Reference
	inFence := false
	for i, line := range e.Body {
		if IsFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		line = inlineCodeRe.ReplaceAllString(line, "")

		for _, m := range wikiLinkRe.FindAllStringSubmatch(line, -1) {
			target := strings.TrimSpace(m[1])
			key := string(RefEntry) + ":" + target
			if target == "" || seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, Reference{Target: target, Kind: RefEntry, Line: e.DocLine(i)})
		}

		for _, m := range markdownLinkRe.FindAllStringSubmatch(line, -1) {
			target, ok := localTarget(m[1])
			key := string(RefFile) + ":" + target
			if !ok || seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, Reference{Target: target, Kind: RefFile, Line: e.DocLine(i)})
		}
	}
	sort.SliceStable(refs, func(a, b int) bool {
		if refs[a].Target != refs[b].Target {
			return refs[a].Target < refs[b].Target
		}
		return refs[a].Kind < refs[b].Kind
	})
	return refs
}

// localTarget strips fragments and query strings and rejects external URLs
// and pure anchors.
func localTarget(raw string) (string, bool) {
	if strings.HasPrefix(raw, "#") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" || u.Host != "" {
		return "", false
	}
	path, err := url.PathUnescape(u.Path)
	if err != nil || path == "" {
		return "", false
	}
	return path, true
}
