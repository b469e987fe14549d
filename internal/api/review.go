package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/kbaudit/internal/audit"
	"github.com/ShayCichocki/kbaudit/internal/library"
	"github.com/ShayCichocki/kbaudit/internal/orchestrator"
)

// Completer produces a text reply for a prompt. *Client implements it.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// reviewDoc is the wire shape of a review. Findings stay raw so they go
// through the strict semantic decoder.
type reviewDoc struct {
	Findings json.RawMessage        `json:"findings"`
	Rewrites []orchestrator.Rewrite `json:"rewrites"`
}

// ParseReview decodes {"findings": [...], "rewrites": [...]}. Any malformed
// finding rejects the whole review.
func ParseReview(data []byte) (orchestrator.Review, error) {
	var doc reviewDoc
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return orchestrator.Review{}, fmt.Errorf("%w: %v", audit.ErrMalformedSemanticFinding, err)
	}

	var review orchestrator.Review
	if len(doc.Findings) > 0 && string(doc.Findings) != "null" {
		findings, err := audit.DecodeSemanticFindings(doc.Findings)
		if err != nil {
			return orchestrator.Review{}, err
		}
		review.Findings = findings
	}
	for i, rw := range doc.Rewrites {
		if strings.TrimSpace(rw.FindingID) == "" {
			return orchestrator.Review{}, fmt.Errorf("%w: rewrite %d has no findingId", audit.ErrMalformedSemanticFinding, i)
		}
	}
	review.Rewrites = doc.Rewrites
	return review, nil
}

// LoadReviewFile reads a review produced ahead of time. Findings with a
// rewrite stop being reported after the first fix cycle.
func LoadReviewFile(path string) (*orchestrator.StaticReviewer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read review file: %w", err)
	}
	review, err := ParseReview(data)
	if err != nil {
		return nil, fmt.Errorf("review file %s: %w", path, err)
	}
	// a saved model reply names findings by position
	if review, err = bindRewrites(review); err != nil {
		return nil, fmt.Errorf("review file %s: %w", path, err)
	}
	return orchestrator.NewStaticReviewer(review), nil
}

const systemPrompt = `You review knowledge-base entries for meaning, not format.
Formatting, metadata and links are checked elsewhere; do not report them.

Reply with a single JSON object and nothing else:
{"findings": [{"severity": "critical|warning|info", "criterion": "<short-kebab-name>", "message": "<one sentence>", "location": "section:<heading>|metadata:<key>|body"}],
 "rewrites": [{"findingId": "#<n>", "target": "<location>", "text": "<replacement>"}]}

A rewrite's findingId is "#1" for the first finding of your reply, "#2" for
the second and so on. Use "findings": [] when the entry is sound. Offer a
rewrite only when you can give the complete replacement text for its target.`

// ModelReviewer asks a model for semantic findings on every audit.
type ModelReviewer struct {
	completer Completer
}

// NewModelReviewer creates a reviewer over c.
func NewModelReviewer(c Completer) *ModelReviewer {
	return &ModelReviewer{completer: c}
}

// Usage reports token use when the completer is a *Client, else nil.
func (r *ModelReviewer) Usage() *Usage {
	if c, ok := r.completer.(*Client); ok {
		return c.Usage()
	}
	return nil
}

// Review implements orchestrator.Reviewer. Rewrite IDs in the reply are
// matched to findings by position when the model cannot know them: a
// findingId of "#N" names the N-th finding (1-based) of the same reply.
func (r *ModelReviewer) Review(ctx context.Context, entry *library.Entry, iteration int) (orchestrator.Review, error) {
	content, err := library.Render(entry)
	if err != nil {
		return orchestrator.Review{}, err
	}
	prompt := fmt.Sprintf("Entry %q (%s location, fix iteration %d):\n\n%s", entry.Name, entry.Location, iteration, content)
	reply, err := r.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return orchestrator.Review{}, err
	}
	review, err := ParseReview([]byte(extractJSON(reply)))
	if err != nil {
		return orchestrator.Review{}, err
	}
	return bindRewrites(review)
}

// bindRewrites replaces positional "#N" ids with the finding IDs.
func bindRewrites(review orchestrator.Review) (orchestrator.Review, error) {
	for i, rw := range review.Rewrites {
		if !strings.HasPrefix(rw.FindingID, "#") {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(rw.FindingID, "#%d", &n); err != nil || n < 1 || n > len(review.Findings) {
			return orchestrator.Review{}, fmt.Errorf("%w: rewrite %d refers to %q", audit.ErrMalformedSemanticFinding, i, rw.FindingID)
		}
		sf := review.Findings[n-1]
		review.Rewrites[i].FindingID = sf.Finding().ID
		if review.Rewrites[i].Target == "" {
			review.Rewrites[i].Target = sf.Location
		}
	}
	return review, nil
}

// extractJSON strips a markdown code fence around the reply, if any.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
