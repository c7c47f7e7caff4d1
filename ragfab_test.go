package ragfab

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/ragfab/core/assembler"
	"github.com/ragfab/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSettingsDefaultsToGlobalConfig(t *testing.T) {
	cfg := Config{HybridSearchEnabled: true, RerankerEnabled: false, UseParentChildChunks: false}
	conv := &store.Conversation{}
	req := AnswerRequest{}

	rs := resolveSettings(cfg, conv, req)
	assert.True(t, rs.hybrid)
	assert.False(t, rs.useReranker)
	assert.False(t, rs.hierarchical)
	assert.False(t, rs.alphaExplicit)
}

func TestResolveSettingsConversationOverridesGlobal(t *testing.T) {
	cfg := Config{HybridSearchEnabled: true, RerankerEnabled: false}
	alpha := 0.65
	hybrid := false
	rerank := true
	conv := &store.Conversation{Alpha: &alpha, HybridEnabled: &hybrid, RerankerEnabled: &rerank}

	rs := resolveSettings(cfg, conv, AnswerRequest{})
	assert.False(t, rs.hybrid)
	assert.True(t, rs.useReranker)
	assert.True(t, rs.alphaExplicit)
	assert.Equal(t, 0.65, rs.alpha)
}

func TestResolveSettingsRequestOverridesConversation(t *testing.T) {
	cfg := Config{HybridSearchEnabled: false}
	convAlpha := 0.2
	conv := &store.Conversation{Alpha: &convAlpha}
	reqAlpha := 0.9
	reqHybrid := true

	rs := resolveSettings(cfg, conv, AnswerRequest{AlphaOverride: &reqAlpha, HybridOverride: &reqHybrid})
	assert.True(t, rs.hybrid)
	assert.True(t, rs.alphaExplicit)
	assert.Equal(t, 0.9, rs.alpha)
}

// Regression test: when nothing sets alpha explicitly, alphaExplicit must
// stay false so retrieveAndAssembleK falls through to the adaptive
// per-query heuristic instead of silently using the zero value.
func TestResolveSettingsLeavesAlphaImplicitWhenUnset(t *testing.T) {
	cfg := Config{}
	rs := resolveSettings(cfg, &store.Conversation{}, AnswerRequest{})
	assert.False(t, rs.alphaExplicit)
	assert.Equal(t, 0.0, rs.alpha)
}

func TestSourceCollectorAccumulatesAcrossAdds(t *testing.T) {
	_, collector := withSourceCollector(context.Background())
	c1 := uuid.New()
	c2 := uuid.New()
	collector.add([]store.SourceSnapshot{{ChunkID: c1}})
	collector.add([]store.SourceSnapshot{{ChunkID: c2}})

	all := collector.all()
	require.Len(t, all, 2)
	assert.Equal(t, c1, all[0].ChunkID)
	assert.Equal(t, c2, all[1].ChunkID)
}

func TestSourceCollectorAllReturnsACopy(t *testing.T) {
	_, collector := withSourceCollector(context.Background())
	collector.add([]store.SourceSnapshot{{ChunkID: uuid.New()}})

	got := collector.all()
	got[0].ChunkID = uuid.Nil

	again := collector.all()
	assert.NotEqual(t, uuid.Nil, again[0].ChunkID)
}

func TestLooksLikeIdentifierRequiresDigitAndUppercase(t *testing.T) {
	assert.True(t, looksLikeIdentifier("RTT35"))
	assert.False(t, looksLikeIdentifier("télétravail"))
	assert.False(t, looksLikeIdentifier("RTT"))
	assert.False(t, looksLikeIdentifier("123"))
}

func TestExtractMissingIdentifiersFindsUngroundedTokens(t *testing.T) {
	blocks := []assembler.ContextBlock{{Content: "Le formulaire CERFA12345 est requis."}}
	draft := "Utilisez le formulaire CERFA12345 ou le code ABC99 si besoin."

	missing := extractMissingIdentifiers(draft, blocks)
	assert.Contains(t, missing, "ABC99")
	assert.NotContains(t, missing, "CERFA12345")
}

func TestToolResultJSONEmptyBlocksStillValid(t *testing.T) {
	got := toolResultJSON(nil)
	assert.Equal(t, `{"passages":[]}`, got)
}

func TestBuildToolModeMessagesExcludesHistory(t *testing.T) {
	e := &engine{}
	messages := e.buildToolModeMessages("Qu'est-ce qu'un RTT?")
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "Qu'est-ce qu'un RTT?", messages[1].Content)
}
