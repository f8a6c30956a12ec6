package rerank

import (
	"testing"

	"imagesearch/internal/retrieval"
	"imagesearch/internal/verify"
)

func TestRerankFiltersBelowCutoffAndBlendsScore(t *testing.T) {
	candidates := []retrieval.Candidate{
		{ImageID: "1", ExternalID: "ext1", RetrievalScore: 0.8},
		{ImageID: "2", ExternalID: "ext2", RetrievalScore: 0.5},
		{ImageID: "3", ExternalID: "ext3", RetrievalScore: 0.9},
	}
	verdicts := []verify.Verdict{
		{Matches: true, Confidence: 0.95},
		{Matches: false, Confidence: 0.99}, // dropped: matches=false
		{Matches: true, Confidence: 0.6},   // dropped: below cutoff
	}

	results := Rerank(candidates, verdicts, DefaultParams())
	if len(results) != 1 {
		t.Fatalf("expected 1 surviving result, got %d: %+v", len(results), results)
	}
	if results[0].ExternalID != "ext1" {
		t.Errorf("ExternalID = %q, want ext1", results[0].ExternalID)
	}
	wantFinal := 0.75*0.95 + 0.25*0.8
	if diff := results[0].FinalScore - wantFinal; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("FinalScore = %v, want %v", results[0].FinalScore, wantFinal)
	}
	if results[0].ConfidenceBadge != BadgeGreen {
		t.Errorf("badge = %v, want green", results[0].ConfidenceBadge)
	}
}

func TestRerankTruncatesToFinalLimit(t *testing.T) {
	var candidates []retrieval.Candidate
	var verdicts []verify.Verdict
	for i := 0; i < 30; i++ {
		candidates = append(candidates, retrieval.Candidate{ImageID: "x", ExternalID: "e", RetrievalScore: 0.8})
		verdicts = append(verdicts, verify.Verdict{Matches: true, Confidence: 0.9})
	}
	results := Rerank(candidates, verdicts, DefaultParams())
	if len(results) != 24 {
		t.Errorf("expected 24 results (FINAL_LIMIT default), got %d", len(results))
	}
}

func TestMatchReasonsSynthesizesFromEvidence(t *testing.T) {
	v := verify.Verdict{
		Room: "kitchen",
		Evidence: verify.Evidence{
			Objects: []string{"dining_table", "chair"},
			Colors:  map[string]string{"dining_table": "black"},
		},
	}
	reasons := matchReasons(v)
	if len(reasons) < 2 {
		t.Fatalf("expected at least 2 reasons, got %+v", reasons)
	}
	if reasons[0] != "Room: kitchen" {
		t.Errorf("reasons[0] = %q, want %q", reasons[0], "Room: kitchen")
	}
}

func TestBadgeThresholds(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Badge
	}{
		{0.95, BadgeGreen},
		{0.9, BadgeGreen},
		{0.89, BadgeYellow},
		{0.7, BadgeYellow},
		{0.69, BadgeRed},
	}
	for _, c := range cases {
		if got := badge(c.confidence); got != c.want {
			t.Errorf("badge(%v) = %v, want %v", c.confidence, got, c.want)
		}
	}
}
