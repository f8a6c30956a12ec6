package vision

import (
	"context"
	"image"
	"image/color"
	"testing"
)

type fakeDetector struct {
	boxes []DetectedBox
	err   error
}

func (f *fakeDetector) Detect(ctx context.Context, imageBytes []byte) ([]DetectedBox, error) {
	return f.boxes, f.err
}

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func box(label string, score, x, y, w, h float64) DetectedBox {
	b := DetectedBox{LabelRaw: label, Score: score}
	b.BBox.X, b.BBox.Y, b.BBox.W, b.BBox.H = x, y, w, h
	return b
}

func idSeq() func() string {
	n := 0
	return func() string {
		n++
		return "id"
	}
}

func TestAnalyzeFiltersLowScoreAndDedupesOverlap(t *testing.T) {
	boxes := []DetectedBox{
		box("sofa", 0.9, 0, 0, 100, 100),
		box("sofa", 0.8, 5, 5, 100, 100), // overlaps heavily, should be deduped
		box("sofa", 0.1, 200, 200, 10, 10), // below threshold, dropped
	}
	a := NewAnalyzer(&fakeDetector{boxes: boxes})
	img := solidImage(256, 256, color.RGBA{R: 200, G: 180, B: 150, A: 255})

	result := a.Analyze(context.Background(), img, []byte("fake"), idSeq())
	if len(result.Objects) != 1 {
		t.Fatalf("expected 1 deduped object, got %d", len(result.Objects))
	}
	if result.Objects[0].Label != "sofa" {
		t.Errorf("label = %q, want sofa", result.Objects[0].Label)
	}
}

func TestAnalyzeDetectorFailureSetsPartial(t *testing.T) {
	a := NewAnalyzer(&fakeDetector{err: errFake{}})
	img := solidImage(32, 32, color.RGBA{A: 255})

	result := a.Analyze(context.Background(), img, []byte("fake"), idSeq())
	if !result.AnalysisPartial {
		t.Fatal("expected AnalysisPartial on detector failure")
	}
	if result.Room != "unknown" {
		t.Errorf("room = %q, want unknown", result.Room)
	}
}

type errFake struct{}

func (errFake) Error() string { return "detector unavailable" }

func TestAnalyzeAssignsColorAndRoom(t *testing.T) {
	boxes := []DetectedBox{box("sofa", 0.9, 0, 0, 50, 50)}
	a := NewAnalyzer(&fakeDetector{boxes: boxes})
	img := solidImage(64, 64, color.RGBA{R: 200, G: 30, B: 30, A: 255})

	result := a.Analyze(context.Background(), img, []byte("fake"), idSeq())
	if len(result.Objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(result.Objects))
	}
	if result.Objects[0].ColorName == "" {
		t.Error("expected a non-empty color name")
	}
	if result.Room != "living_room" {
		t.Errorf("room = %q, want living_room", result.Room)
	}
}

func TestIoUOverlapAndDisjoint(t *testing.T) {
	a := struct{ X, Y, W, H float64 }{0, 0, 10, 10}
	b := struct{ X, Y, W, H float64 }{0, 0, 10, 10}
	if got := iou(a, b); got != 1.0 {
		t.Errorf("identical boxes iou = %v, want 1.0", got)
	}

	c := struct{ X, Y, W, H float64 }{100, 100, 10, 10}
	if got := iou(a, c); got != 0 {
		t.Errorf("disjoint boxes iou = %v, want 0", got)
	}
}

func TestClassifyRoomEmptyObjectsYieldsUnknown(t *testing.T) {
	room, conf, scores := classifyRoom(nil)
	if room != "unknown" || conf != 0 || scores != nil {
		t.Errorf("got (%q, %v, %v), want (unknown, 0, nil)", room, conf, scores)
	}
}
