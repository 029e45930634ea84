package dynamic_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/classify"
	"github.com/xhad/dealwise/pkg/dynamic"
)

type fakeSearcher struct {
	results  []models.SearchResult
	err      error
	calls    int
	lastOpts types.SearchOptions
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchResult, error) {
	f.calls++
	f.lastOpts = opts
	return f.results, f.err
}

func TestAnalyze_ProbateInToolResultTriggersRetrieval(t *testing.T) {
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, &fakeSearcher{}, nil)

	toolResult := "Listing 4417: 3bd/2ba, pending probate sale, asking $145,000"
	state := &models.ConversationState{SessionID: "s1"}

	got := a.Analyze(toolResult, state)

	assert.True(t, got.ShouldRetrieve)
	assert.Contains(t, got.MatchedTerms, "probate")
	assert.Contains(t, got.SuggestedCategories, classify.CategoryLegal)
	assert.Equal(t, models.UrgencyHigh, got.Urgency)
}

func TestAnalyze_AlreadyFetchedCategorySuppressesRetrieval(t *testing.T) {
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, &fakeSearcher{}, nil)

	state := &models.ConversationState{
		SessionID:         "s2",
		FetchedCategories: []string{classify.CategoryLegal},
	}

	got := a.Analyze("pending probate sale", state)

	assert.False(t, got.ShouldRetrieve, "session already has legal context")
	assert.Contains(t, got.MatchedTerms, "probate", "matching is still reported")
}

func TestAnalyze_NoTriggerTerms(t *testing.T) {
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, &fakeSearcher{}, nil)

	got := a.Analyze("3bd/2ba ranch, built 1987, 1450 sqft", &models.ConversationState{})

	assert.False(t, got.ShouldRetrieve)
	assert.Empty(t, got.MatchedTerms)
	assert.Equal(t, models.UrgencyNone, got.Urgency)
}

func TestAnalyze_UrgencyTakesHighestMatch(t *testing.T) {
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, &fakeSearcher{}, nil)

	// "roof" alone is low urgency; adding a lien escalates.
	low := a.Analyze("roof needs replacement", &models.ConversationState{})
	assert.Equal(t, models.UrgencyLow, low.Urgency)

	high := a.Analyze("roof needs replacement, open lien on record", &models.ConversationState{})
	assert.Equal(t, models.UrgencyHigh, high.Urgency)
	assert.Contains(t, high.SuggestedCategories, classify.CategoryCondition)
	assert.Contains(t, high.SuggestedCategories, classify.CategoryLegal)
}

func TestRetrieve_ScopedBoundedSearch(t *testing.T) {
	searcher := &fakeSearcher{
		results: []models.SearchResult{
			{ChunkID: "c1", DocumentID: "doc-probate", DocumentTitle: "Buying Probate Properties", Category: classify.CategoryLegal, Content: "Probate purchases require court approval.", Similarity: 0.81},
			{ChunkID: "c2", DocumentID: "doc-probate", DocumentTitle: "Buying Probate Properties", Category: classify.CategoryLegal, Content: "Expect longer closing timelines.", Similarity: 0.74},
		},
	}
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{Limit: 3}, searcher, nil)

	state := &models.ConversationState{
		SessionID:     "s3",
		FetchedDocIDs: []string{"doc-seen"},
	}
	analysis := a.Analyze("pending probate sale", state)
	require.True(t, analysis.ShouldRetrieve)

	got := a.Retrieve(context.Background(), analysis, state)
	require.NotNil(t, got)

	assert.Equal(t, 1, searcher.calls)
	assert.Equal(t, 3, searcher.lastOpts.Limit)
	assert.Equal(t, []string{classify.CategoryLegal}, searcher.lastOpts.Categories)
	assert.Equal(t, []string{"doc-seen"}, searcher.lastOpts.ExcludeDocIDs)

	assert.Contains(t, got.Context, "Buying Probate Properties")
	assert.Contains(t, got.Context, "court approval")
	require.Len(t, got.Sources, 1, "sources deduplicated by document")
	assert.Equal(t, []string{"doc-probate"}, got.DocIDs)
}

func TestRetrieve_SearchFailureIsSwallowed(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store unavailable")}
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, searcher, nil)

	state := &models.ConversationState{SessionID: "s4"}
	analysis := a.Analyze("pending probate sale", state)
	require.True(t, analysis.ShouldRetrieve)

	assert.Nil(t, a.Retrieve(context.Background(), analysis, state))
	assert.Equal(t, 1, searcher.calls)
}

func TestRetrieve_SkippedWhenAnalysisDidNotFire(t *testing.T) {
	searcher := &fakeSearcher{}
	a := dynamic.NewAnalyzer(dynamic.AnalyzerConfig{}, searcher, nil)

	got := a.Retrieve(context.Background(), dynamic.Analysis{}, &models.ConversationState{})
	assert.Nil(t, got)
	assert.Zero(t, searcher.calls)
}
