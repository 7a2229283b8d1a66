package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/types"
)

func TestDistill(t *testing.T) {
	steps := []types.WorkflowStep{
		{Action: types.ActionType, Target: 1, Value: "laptop"},
		{Action: types.ActionClick, Target: 2},
	}
	elements := map[int]types.ElementRef{
		1: {Index: 1, Tag: "input", Signature: "Search products"},
		2: {Index: 2, Tag: "button", Signature: "Search"},
		3: {Index: 3, Tag: "input", Signature: "Email address"},
		4: {Index: 4, Tag: "a", Signature: ""},
	}

	p := Distill("https://www.shop.example.com/results", "search", steps, elements)

	assert.Equal(t, "shop.example.com", p.Domain, "scheme, www, and path are stripped")
	assert.Equal(t, types.PatternID("shop.example.com", "search"), p.ID)
	require.Len(t, p.Flows["default"], 2)
	assert.Equal(t, "Search products", p.Elements["el_1"])
	assert.NotContains(t, p.Elements, "el_4", "blank signatures are dropped")
	assert.Equal(t, 1, p.FormFields["search"])
	assert.Equal(t, 3, p.FormFields["email"])

	// The flow is a copy, not an alias.
	steps[0].Value = "changed"
	assert.Equal(t, "laptop", p.Flows["default"][0].Value)
}
