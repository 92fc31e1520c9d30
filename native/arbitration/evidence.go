package arbitration

import (
	"context"
	"strings"
)

// Evidence rendering bounds. Only the leading references are fetched and each
// rendered document is cut to a fixed number of characters so the prompt size
// and fetch latency stay predictable.
const (
	MaxEvidenceRefs   = 3
	MaxEvidenceChars  = 1200
	EvidenceMode      = "text"
	FetchFailedMarker = "(failed to fetch)"
)

// Fetcher is the document fetch boundary: render(url, mode) -> text.
type Fetcher interface {
	Render(ctx context.Context, url, mode string) (string, error)
}

// Renderer turns evidence references into prompt context.
type Renderer struct {
	fetcher Fetcher
}

// NewRenderer returns a renderer backed by f. A nil fetcher renders every
// reference with the failure marker.
func NewRenderer(f Fetcher) *Renderer {
	return &Renderer{fetcher: f}
}

// ParseReferences splits a comma-delimited reference list, trimming entries
// and dropping empty ones.
func ParseReferences(csv string) []string {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	refs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			refs = append(refs, p)
		}
	}
	return refs
}

// Render fetches at most MaxEvidenceRefs references and concatenates one
// block per reference. A failed fetch yields FetchFailedMarker for that block
// and never an error.
func (r *Renderer) Render(ctx context.Context, refs []string) string {
	if len(refs) > MaxEvidenceRefs {
		refs = refs[:MaxEvidenceRefs]
	}
	chunks := make([]string, 0, len(refs))
	for _, ref := range refs {
		text, ok := r.fetch(ctx, ref)
		if !ok {
			chunks = append(chunks, "URL: "+ref+"\nCONTENT: "+FetchFailedMarker+"\n")
			continue
		}
		chunks = append(chunks, "URL: "+ref+"\nCONTENT:\n"+truncateChars(text, MaxEvidenceChars)+"\n")
	}
	return strings.Join(chunks, "\n")
}

func (r *Renderer) fetch(ctx context.Context, ref string) (text string, ok bool) {
	if r == nil || r.fetcher == nil {
		return "", false
	}
	defer func() {
		if recover() != nil {
			text, ok = "", false
		}
	}()
	text, err := r.fetcher.Render(ctx, ref, EvidenceMode)
	if err != nil {
		return "", false
	}
	return text, true
}

func truncateChars(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
