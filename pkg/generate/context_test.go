package generate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/pkg/generate"
)

func TestContextBuilder_CeilingStopsBeforeOverflowingSection(t *testing.T) {
	b := generate.NewContextBuilder(generate.ContextBuilderConfig{MaxTokens: 40}, nil)

	results := []models.SearchResult{
		{DocumentID: "d1", DocumentTitle: "Wholesaling", Category: "Fundamentals", Content: "Wholesaling assigns a purchase contract to an end buyer for a fee.", Similarity: 0.9},
		{DocumentID: "d2", DocumentTitle: "Assignment Contracts", Category: "Legal & Compliance", Content: strings.Repeat("assignment clause terms ", 30), Similarity: 0.8},
	}

	text, sources := b.Build(results)
	assert.Contains(t, text, "Wholesaling assigns")
	assert.NotContains(t, text, "assignment clause terms")
	require.Len(t, sources, 1)
	assert.Equal(t, "d1", sources[0].DocumentID)
}

func TestContextBuilder_OversizedTopResultStillIncluded(t *testing.T) {
	b := generate.NewContextBuilder(generate.ContextBuilderConfig{MaxTokens: 10}, nil)

	results := []models.SearchResult{
		{DocumentID: "d1", DocumentTitle: "Due Diligence Checklist", Category: "Deal Analysis", Content: strings.Repeat("inspect the roof and foundation ", 10), Similarity: 0.95},
		{DocumentID: "d2", DocumentTitle: "Earnest Money", Category: "Fundamentals", Content: "Earnest money shows commitment.", Similarity: 0.7},
	}

	text, sources := b.Build(results)
	assert.Contains(t, text, "inspect the roof", "the best match is never dropped")
	assert.NotContains(t, text, "Earnest money")
	require.Len(t, sources, 1)
	assert.Equal(t, "d1", sources[0].DocumentID)
}
