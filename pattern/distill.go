package pattern

import (
	"fmt"
	"strings"

	"github.com/BaSui01/siteflow/types"
)

// formFieldHints maps substrings of an element signature to the semantic
// field names stored in SitePattern.FormFields.
var formFieldHints = map[string]string{
	"email":    "email",
	"password": "password",
	"user":     "username",
	"phone":    "phone",
	"search":   "search",
	"card":     "card_number",
	"zip":      "postal_code",
	"postal":   "postal_code",
}

// Distill condenses a finished workflow into a reusable pattern: the step
// list becomes a named flow, and the session's indexed elements become the
// signature and form-field maps future runs resolve against.
func Distill(domain, pageType string, steps []types.WorkflowStep, elements map[int]types.ElementRef) *types.SitePattern {
	p := &types.SitePattern{
		Domain:   types.NormalizeDomain(domain),
		PageType: pageType,
		Elements: make(map[string]string),
		Flows: map[string][]types.WorkflowStep{
			"default": append([]types.WorkflowStep(nil), steps...),
		},
	}
	p.ID = types.PatternID(p.Domain, p.PageType)

	for index, ref := range elements {
		if ref.Signature == "" {
			continue
		}
		p.Elements[fmt.Sprintf("el_%d", index)] = ref.Signature
		if semantic := classifyField(ref); semantic != "" {
			if _, taken := p.FormFields[semantic]; !taken {
				if p.FormFields == nil {
					p.FormFields = make(map[string]int)
				}
				p.FormFields[semantic] = index
			}
		}
	}
	return p
}

// classifyField names the semantic role of a form input, or empty for
// non-input elements and unrecognized signatures.
func classifyField(ref types.ElementRef) string {
	switch ref.Tag {
	case "input", "textarea", "select":
	default:
		return ""
	}
	lower := strings.ToLower(ref.Signature)
	for hint, semantic := range formFieldHints {
		if strings.Contains(lower, hint) {
			return semantic
		}
	}
	return ""
}
