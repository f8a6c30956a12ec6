package verify

import (
	"context"
	"testing"

	"imagesearch/internal/apperr"
)

type fakeClient struct {
	calls   int
	verdict func(refs []ImageRef) ([]Verdict, error)
}

func (f *fakeClient) VerifyBatch(ctx context.Context, queryOriginal, queryTranslated string, images []ImageRef) ([]Verdict, error) {
	f.calls++
	return f.verdict(images)
}

func TestVerifyReturnsOneVerdictPerImageInOrder(t *testing.T) {
	client := &fakeClient{verdict: func(refs []ImageRef) ([]Verdict, error) {
		out := make([]Verdict, len(refs))
		for i, r := range refs {
			out[i] = Verdict{ImageID: r.ImageID, Matches: true, Confidence: 0.8}
		}
		return out, nil
	}}

	v := New(client, nil, nil, 2, 2)
	images := []ImageRef{
		{ImageID: "a", ContentHash: "h1"},
		{ImageID: "b", ContentHash: "h2"},
		{ImageID: "c", ContentHash: "h3"},
	}

	results, err := v.Verify(context.Background(), "query", "query", images)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ImageID != want {
			t.Errorf("results[%d].ImageID = %q, want %q", i, results[i].ImageID, want)
		}
	}
}

func TestVerifyServesCachedVerdictsWithoutCallingClient(t *testing.T) {
	client := &fakeClient{verdict: func(refs []ImageRef) ([]Verdict, error) {
		t.Fatalf("client should not be called when cache is warm")
		return nil, nil
	}}

	cache := NewCache(nil, 0, 10)
	key := CacheKey("query", "a", "h1")
	cache.Put(context.Background(), key, Verdict{ImageID: "a", Matches: true, Confidence: 0.9})

	v := New(client, cache, nil, 2, 2)
	results, err := v.Verify(context.Background(), "query", "query", []ImageRef{{ImageID: "a", ContentHash: "h1"}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !results[0].Matches || results[0].Confidence != 0.9 {
		t.Errorf("expected cached verdict, got %+v", results[0])
	}
}

func TestVerifyMissingVerdictFallsBackToParseError(t *testing.T) {
	client := &fakeClient{verdict: func(refs []ImageRef) ([]Verdict, error) {
		return nil, nil // no verdicts for any image in the batch
	}}

	v := New(client, nil, nil, 2, 2)
	results, err := v.Verify(context.Background(), "q", "q", []ImageRef{{ImageID: "x", ContentHash: "h"}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if results[0].Matches || results[0].Notes != "parse_error" {
		t.Errorf("expected parse_error fallback, got %+v", results[0])
	}
}

func TestCallWithRetryAbortsImmediatelyOnNonTransientError(t *testing.T) {
	attempts := 0
	client := &fakeClient{verdict: func(refs []ImageRef) ([]Verdict, error) {
		attempts++
		return nil, apperr.New(apperr.KindAuth, "bad credential")
	}}

	v := New(client, nil, nil, 2, 2)
	_, err := v.callWithRetry(context.Background(), "q", "q", []ImageRef{{ImageID: "a"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-transient error, got %d", attempts)
	}
}
