package queryprep

import (
	"context"
	"strings"
	"testing"

	"github.com/ragfab/core/llm"
)

func TestBuildTSQueryStripsStopwords(t *testing.T) {
	got := BuildTSQuery("Quelle est la procédure de sécurité pour le chariot élévateur ?")
	if strings.Contains(got, "la") || strings.Contains(got, " de ") {
		t.Errorf("tsquery %q still contains stopwords", got)
	}
	if !strings.Contains(got, "procédure") || !strings.Contains(got, "sécurité") {
		t.Errorf("tsquery %q dropped content words", got)
	}
}

func TestBuildTSQueryAllStopwordsIsEmpty(t *testing.T) {
	got := BuildTSQuery("le la les de des du un une et")
	if got != "" {
		t.Errorf("tsquery = %q, want empty (keyword search disabled signal)", got)
	}
}

func TestBuildTSQueryPreservesAcronym(t *testing.T) {
	got := BuildTSQuery("Que signifie EPI dans ce contexte ?")
	if !strings.Contains(got, "epi") {
		t.Errorf("tsquery %q dropped the acronym EPI", got)
	}
}

func TestBuildTSQueryJoinsWithAnd(t *testing.T) {
	got := BuildTSQuery("procédure sécurité chariot")
	want := "procédure & sécurité & chariot"
	if got != want {
		t.Errorf("tsquery = %q, want %q", got, want)
	}
}

func TestAdaptiveAlphaAcronymBias(t *testing.T) {
	if a := AdaptiveAlpha("Que signifie EPI ?"); a != 0.3 {
		t.Errorf("alpha = %v, want 0.3 for an acronym query", a)
	}
}

func TestAdaptiveAlphaProperNounBias(t *testing.T) {
	if a := AdaptiveAlpha("Je cherche des informations sur Toulouse"); a != 0.3 {
		t.Errorf("alpha = %v, want 0.3 for a proper-noun query", a)
	}
}

func TestAdaptiveAlphaLongWhQuestion(t *testing.T) {
	q := "Pourquoi faut-il absolument porter un casque de sécurité sur tous les chantiers de construction aujourd'hui"
	if a := AdaptiveAlpha(q); a != 0.7 {
		t.Errorf("alpha = %v, want 0.7 for a long wh-question", a)
	}
}

func TestAdaptiveAlphaShortQuery(t *testing.T) {
	if a := AdaptiveAlpha("casque sécurité"); a != 0.4 {
		t.Errorf("alpha = %v, want 0.4 for a short query", a)
	}
}

func TestAdaptiveAlphaDefault(t *testing.T) {
	q := "comment nettoyer correctement le filtre avant chaque utilisation"
	if a := AdaptiveAlpha(q); a != 0.5 {
		t.Errorf("alpha = %v, want 0.5 default", a)
	}
}

func TestHasContextualReferenceStrongDemonstrative(t *testing.T) {
	if !HasContextualReference("Peux-tu m'en dire plus sur celui-ci ?") {
		t.Error("expected a strong demonstrative reference to be detected")
	}
}

func TestHasContextualReferenceBareArticleIsNotAReference(t *testing.T) {
	if HasContextualReference("Le chat est noir") {
		t.Error("a bare article must never be treated as a contextual reference")
	}
}

func TestHasContextualReferencePronounAtFirstPosition(t *testing.T) {
	if !HasContextualReference("Il fonctionne comment ?") {
		t.Error("expected a sentence-initial pronoun to be detected as a reference")
	}
}

func TestHasContextualReferenceNeuterOnlyUnderEightTokens(t *testing.T) {
	short := "Et ça fonctionne comment"
	if !HasContextualReference(short) {
		t.Error("expected neuter demonstrative to be detected in a short query")
	}

	long := "Je voudrais vraiment bien comprendre comment cela fonctionne dans le cadre de cette procédure précise"
	if HasContextualReference(long) {
		t.Error("neuter demonstrative should not trigger detection once the query reaches 8+ tokens")
	}
}

type fakeReformulateProvider struct {
	response string
	lastReq  llm.ChatRequest
}

func (f *fakeReformulateProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.lastReq = req
	return &llm.ChatResponse{Content: f.response}, nil
}

func (f *fakeReformulateProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func TestReformulateUsesOnlyLastThreePairs(t *testing.T) {
	provider := &fakeReformulateProvider{response: "Comment fonctionne le chariot élévateur modèle X200 ?"}
	history := []MessagePair{
		{User: "q1", Assistant: "a1"},
		{User: "q2", Assistant: "a2"},
		{User: "q3", Assistant: "a3"},
		{User: "q4", Assistant: "a4"},
	}

	got, err := Reformulate(context.Background(), provider, "Comment il fonctionne ?", history)
	if err != nil {
		t.Fatalf("Reformulate: %v", err)
	}
	if got != provider.response {
		t.Errorf("reformulated = %q, want %q", got, provider.response)
	}

	transcript := provider.lastReq.Messages[1].Content
	if strings.Contains(transcript, "q1") {
		t.Errorf("transcript included a pair beyond the last 3: %q", transcript)
	}
	if !strings.Contains(transcript, "q2") || !strings.Contains(transcript, "q4") {
		t.Errorf("transcript missing expected recent pairs: %q", transcript)
	}
}
