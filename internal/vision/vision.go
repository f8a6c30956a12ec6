package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"imagesearch/internal/colorspace"
	"imagesearch/internal/errlog"
	"imagesearch/internal/model"
	"imagesearch/internal/vocab"
)

const (
	scoreFilterThreshold = 0.25
	iouDedupThreshold    = 0.6
	colorSampleCap       = 4000
	secondaryColorShare  = 0.10
	roomScoreThreshold   = 0.4
)

// Result is the full multi-pass analysis of one image.
type Result struct {
	Objects         []model.Object
	RoomScores      []model.RoomScore
	Room            string
	RoomConfidence  float64
	AnalysisPartial bool
}

// Analyzer runs passes A-D over a decoded raster.
type Analyzer struct {
	detector Detector
}

func NewAnalyzer(detector Detector) *Analyzer {
	return &Analyzer{detector: detector}
}

// Analyze runs the full multi-pass pipeline. Any single pass failing does
// not abort the image: it is recorded via AnalysisPartial and the
// remaining passes still run on whatever facts are available (§4.3
// failure policy).
func (a *Analyzer) Analyze(ctx context.Context, img image.Image, rawBytes []byte, makeID func() string) Result {
	var partial bool

	boxes, err := a.detector.Detect(ctx, rawBytes)
	if err != nil {
		errlog.Logf("vision: detection failed: %v", err)
		return Result{AnalysisPartial: true, Room: "unknown"}
	}

	canon := canonicalizeAndFilter(boxes)
	if len(canon) == 0 {
		partial = len(boxes) > 0
	}

	objects := make([]model.Object, 0, len(canon))
	for _, b := range canon {
		obj := model.Object{
			ID:              makeID(),
			Label:           b.label,
			LabelConfidence: b.score,
			BBox: model.BBox{
				X: b.box.X, Y: b.box.Y, W: b.box.W, H: b.box.H,
			},
			AreaPixels: int64(b.box.W * b.box.H),
		}

		colorName, lab, secondary, ok := extractColor(img, b.box)
		if !ok {
			partial = true
		} else {
			obj.ColorName = colorName
			obj.ColorLAB = model.LAB{L: lab.L, A: lab.A, B: lab.B}
			obj.SecondaryColors = secondary
		}

		material, matConf := inferMaterial(b.label, lab, ok)
		obj.Material = material
		obj.MaterialConf = matConf

		objects = append(objects, obj)
	}

	room, roomConf, roomScores := classifyRoom(objects)

	return Result{
		Objects:         objects,
		RoomScores:      roomScores,
		Room:            room,
		RoomConfidence:  roomConf,
		AnalysisPartial: partial,
	}
}

type canonBox struct {
	label string
	score float64
	box   struct{ X, Y, W, H float64 }
}

// canonicalizeAndFilter implements Pass A: score filtering, synonym
// canonicalization, and IoU-based dedup keeping the higher score.
func canonicalizeAndFilter(boxes []DetectedBox) []canonBox {
	var kept []canonBox
	for _, b := range boxes {
		if b.Score < scoreFilterThreshold {
			continue
		}
		kept = append(kept, canonBox{
			label: vocab.Canonicalize(b.LabelRaw),
			score: b.Score,
			box:   struct{ X, Y, W, H float64 }{b.BBox.X, b.BBox.Y, b.BBox.W, b.BBox.H},
		})
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].score > kept[j].score })

	var deduped []canonBox
	for _, c := range kept {
		dup := false
		for _, d := range deduped {
			if d.label == c.label && iou(c.box, d.box) > iouDedupThreshold {
				dup = true
				break
			}
		}
		if !dup {
			deduped = append(deduped, c)
		}
	}
	return deduped
}

func iou(a, b struct{ X, Y, W, H float64 }) float64 {
	ax2, ay2 := a.X+a.W, a.Y+a.H
	bx2, by2 := b.X+b.W, b.Y+b.H

	ix1, iy1 := math.Max(a.X, b.X), math.Max(a.Y, b.Y)
	ix2, iy2 := math.Min(ax2, bx2), math.Min(ay2, by2)
	iw, ih := math.Max(0, ix2-ix1), math.Max(0, iy2-iy1)
	inter := iw * ih
	if inter == 0 {
		return 0
	}
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// extractColor implements Pass B: crop to bbox, convert to LAB, k-means
// with k=3 on up to 4k subsampled pixels, dominant cluster wins the
// primary color, clusters with >=10% share become secondary colors.
func extractColor(img image.Image, box struct{ X, Y, W, H float64 }) (string, colorspace.LAB, []string, bool) {
	bounds := img.Bounds()
	x0 := bounds.Min.X + int(box.X)
	y0 := bounds.Min.Y + int(box.Y)
	x1 := x0 + int(box.W)
	y1 := y0 + int(box.H)
	if x0 < bounds.Min.X {
		x0 = bounds.Min.X
	}
	if y0 < bounds.Min.Y {
		y0 = bounds.Min.Y
	}
	if x1 > bounds.Max.X {
		x1 = bounds.Max.X
	}
	if y1 > bounds.Max.Y {
		y1 = bounds.Max.Y
	}
	if x1 <= x0 || y1 <= y0 {
		return "", colorspace.LAB{}, nil, false
	}

	w, h := x1-x0, y1-y0
	total := w * h
	stride := 1
	if total > colorSampleCap {
		stride = int(math.Ceil(math.Sqrt(float64(total) / float64(colorSampleCap))))
	}

	var points []colorspace.LAB
	for y := y0; y < y1; y += stride {
		for x := x0; x < x1; x += stride {
			points = append(points, colorspace.RGBToLAB(img.At(x, y)))
		}
	}
	if len(points) == 0 {
		return "", colorspace.LAB{}, nil, false
	}

	clusters := colorspace.KMeans(points, 3, 10)
	if len(clusters) == 0 {
		return "", colorspace.LAB{}, nil, false
	}

	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Share > clusters[j].Share })
	dominant := clusters[0].Centroid
	name := colorspace.NearestPaletteColor(dominant)

	var secondary []string
	for _, c := range clusters[1:] {
		if c.Share >= secondaryColorShare {
			secondary = append(secondary, colorspace.NearestPaletteColor(c.Centroid))
		}
	}

	return name, dominant, secondary, true
}

// inferMaterial implements Pass C's heuristic rules. lab/haveColor let the
// chroma-dependent rules (dining_table) fire only when color extraction
// succeeded; otherwise the rule set degrades to label-only defaults.
func inferMaterial(label string, lab colorspace.LAB, haveColor bool) (string, float64) {
	chroma := math.Hypot(lab.A, lab.B)

	switch label {
	case "dining_table", "table", "coffee_table", "desk":
		if !haveColor {
			return "unknown", 0
		}
		if chroma < 10 {
			return "marble", 0.6
		}
		return "wood", 0.55
	case "kitchen_island":
		if haveColor && chroma < 10 {
			return "granite", 0.5
		}
		return "unknown", 0
	case "chair":
		if haveColor && lab.A > 5 && lab.B > 15 {
			return "leather", 0.45
		}
		return "fabric", 0.4
	case "sofa":
		return "fabric", 0.4
	case "wardrobe", "cabinet":
		return "wood", 0.45
	case "mirror":
		return "glass", 0.5
	case "bathtub", "sink":
		return "ceramic", 0.45
	default:
		return "unknown", 0
	}
}

// classifyRoom implements Pass D: W[label][room] weighted voting,
// softmax, argmax >= 0.4 wins else "unknown". All non-zero scores are
// returned for persistence as RoomScore rows.
func classifyRoom(objects []model.Object) (string, float64, []model.RoomScore) {
	raw := make(map[string]float64)
	for _, obj := range objects {
		weights := vocab.RoomWeightsFor(obj.Label)
		for room, w := range weights {
			raw[room] += w * obj.LabelConfidence
		}
	}
	if len(raw) == 0 {
		return "unknown", 0, nil
	}

	var sum float64
	exps := make(map[string]float64, len(raw))
	for room, score := range raw {
		e := math.Exp(score)
		exps[room] = e
		sum += e
	}

	var best string
	var bestScore float64
	scores := make([]model.RoomScore, 0, len(raw))
	for room, e := range exps {
		softmax := e / sum
		scores = append(scores, model.RoomScore{Room: room, Score: softmax})
		if softmax > bestScore {
			bestScore = softmax
			best = room
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	if bestScore < roomScoreThreshold {
		return "unknown", bestScore, scores
	}
	return best, bestScore, scores
}
