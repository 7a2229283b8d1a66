package types

// BoundingBox represents element position and size in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementRef is a best-effort stable reference to a page element produced by
// a page scan. Index numbers are 1-based within one index generation and are
// not stable across re-indexing; Generation ties the reference to the scan
// that produced it, so a resolve against a newer generation must re-index
// instead of silently matching a different element.
type ElementRef struct {
	Index      int          `json:"index"`
	Generation uint64       `json:"generation"`
	Tag        string       `json:"tag"`
	// Signature is the truncated label/placeholder/visible text used for
	// tier-3 resolution and for matching across re-index.
	Signature  string       `json:"signature"`
	// Selector is an id or test-id derived stable selector, empty when the
	// element exposes neither.
	Selector   string       `json:"selector,omitempty"`
	Box        *BoundingBox `json:"box,omitempty"`
	Score      int          `json:"score"`
}

// SignatureMaxLen bounds the text signature stored in an ElementRef.
const SignatureMaxLen = 60

// TruncateSignature normalizes a raw element text into a signature.
func TruncateSignature(text string) string {
	if len(text) > SignatureMaxLen {
		return text[:SignatureMaxLen]
	}
	return text
}
