package caption

import (
	"context"
	"errors"
	"strings"
	"testing"

	"imagesearch/internal/model"
)

func TestRenderBuildsPhraseFromTopObjects(t *testing.T) {
	objects := []model.Object{
		{Label: "dining_table", ColorName: "black", Material: "marble", AreaPixels: 9000},
		{Label: "chair", ColorName: "", Material: "wood", AreaPixels: 2000},
		{Label: "chair", ColorName: "", Material: "wood", AreaPixels: 1800},
		{Label: "refrigerator", ColorName: "stainless", Material: "unknown", AreaPixels: 500},
	}
	got := Render("kitchen", objects, []string{"modern"})

	if !strings.Contains(got, "Kitchen with black marble dining table") {
		t.Errorf("caption missing table phrase: %q", got)
	}
	if !strings.Contains(got, "two wood chairs") {
		t.Errorf("caption missing grouped chair phrase: %q", got)
	}
	if !strings.HasSuffix(got, "style.") {
		t.Errorf("caption missing style suffix: %q", got)
	}
}

func TestRenderEmptyObjectsStillProducesRoomSentence(t *testing.T) {
	got := Render("bedroom", nil, nil)
	if !strings.HasPrefix(got, "Bedroom with") {
		t.Errorf("got %q", got)
	}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func TestBuildAttachesEmbeddingOnSuccess(t *testing.T) {
	c := Build(context.Background(), &fakeEmbedder{vec: []float32{0.1, 0.2}}, "kitchen", nil, nil, false)
	if len(c.EmbedEN) != 2 {
		t.Fatalf("expected embedding of length 2, got %v", c.EmbedEN)
	}
	if c.Facts.Room != "kitchen" {
		t.Errorf("facts.room = %q, want kitchen", c.Facts.Room)
	}
}

func TestBuildLeavesEmbedNilOnFailure(t *testing.T) {
	c := Build(context.Background(), &fakeEmbedder{err: errors.New("boom")}, "kitchen", nil, nil, false)
	if c.EmbedEN != nil {
		t.Error("expected nil embedding on embedder failure")
	}
	if c.CaptionEN == "" {
		t.Error("expected caption text to still be rendered")
	}
}
