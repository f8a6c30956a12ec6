// Package rerank implements Stage C: filter verified candidates, blend
// retrieval and VLM scores, and attach explainability fields (§4.8).
package rerank

import (
	"fmt"
	"sort"
	"strings"

	"imagesearch/internal/retrieval"
	"imagesearch/internal/verify"
)

// Badge is the coarse confidence bucket surfaced to the UI (§4.8, §9).
type Badge string

const (
	BadgeGreen  Badge = "green"
	BadgeYellow Badge = "yellow"
	BadgeRed    Badge = "red"
)

// Result is one final search result (§6's result shape).
type Result struct {
	ImageID         string
	ExternalID      string
	FileName        string
	FolderPath      string
	Room            string
	VLMConfidence   float64
	FinalScore      float64
	RetrievalScore  float64
	Evidence        verify.Evidence
	MatchReasons    []string
	AINotes         string
	ConfidenceBadge Badge
}

// Params holds the re-ranker's tunables, taken from configuration
// (CUTOFF, ALPHA, FINAL_LIMIT per §6).
type Params struct {
	Cutoff     float64
	Alpha      float64
	FinalLimit int
}

// DefaultParams matches the spec's documented defaults.
func DefaultParams() Params {
	return Params{Cutoff: 0.7, Alpha: 0.75, FinalLimit: 24}
}

// Rerank filters, blends, sorts, and truncates. candidates and verdicts
// must be the same length and index-aligned, as produced by
// retrieval.Retrieve followed by verify.Verifier.Verify.
func Rerank(candidates []retrieval.Candidate, verdicts []verify.Verdict, p Params) []Result {
	results := make([]Result, 0, len(candidates))
	for i, c := range candidates {
		if i >= len(verdicts) {
			break
		}
		v := verdicts[i]
		if !v.Matches || v.Confidence < p.Cutoff {
			continue
		}
		finalScore := p.Alpha*v.Confidence + (1-p.Alpha)*c.RetrievalScore
		results = append(results, Result{
			ImageID:         c.ImageID,
			ExternalID:      c.ExternalID,
			FileName:        c.FileName,
			FolderPath:      c.FolderPath,
			Room:            c.Room,
			VLMConfidence:   v.Confidence,
			FinalScore:      finalScore,
			RetrievalScore:  c.RetrievalScore,
			Evidence:        v.Evidence,
			MatchReasons:    matchReasons(v),
			AINotes:         v.Notes,
			ConfidenceBadge: badge(v.Confidence),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].FinalScore != results[j].FinalScore {
			return results[i].FinalScore > results[j].FinalScore
		}
		return results[i].ExternalID < results[j].ExternalID
	})

	limit := p.FinalLimit
	if limit <= 0 {
		limit = 24
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// badge buckets a confidence value per §4.8/§9: green>=0.9, yellow>=0.7,
// red otherwise.
func badge(confidence float64) Badge {
	switch {
	case confidence >= 0.9:
		return BadgeGreen
	case confidence >= 0.7:
		return BadgeYellow
	default:
		return BadgeRed
	}
}

// matchReasons synthesizes human-readable reason strings from the VLM's
// evidence, e.g. "Room: kitchen", "Objects: dining table, chair",
// "Colors: dining table=black" (§4.8).
func matchReasons(v verify.Verdict) []string {
	var reasons []string
	if v.Room != "" {
		reasons = append(reasons, fmt.Sprintf("Room: %s", displayLabel(v.Room)))
	}
	if len(v.Evidence.Objects) > 0 {
		labels := make([]string, len(v.Evidence.Objects))
		for i, o := range v.Evidence.Objects {
			labels[i] = displayLabel(o)
		}
		reasons = append(reasons, fmt.Sprintf("Objects: %s", strings.Join(labels, ", ")))
	}
	if len(v.Evidence.Colors) > 0 {
		var parts []string
		for obj, color := range v.Evidence.Colors {
			parts = append(parts, fmt.Sprintf("%s=%s", displayLabel(obj), color))
		}
		sort.Strings(parts)
		reasons = append(reasons, fmt.Sprintf("Colors: %s", strings.Join(parts, ", ")))
	}
	if len(v.Evidence.Materials) > 0 {
		var parts []string
		for obj, material := range v.Evidence.Materials {
			parts = append(parts, fmt.Sprintf("%s=%s", displayLabel(obj), material))
		}
		sort.Strings(parts)
		reasons = append(reasons, fmt.Sprintf("Materials: %s", strings.Join(parts, ", ")))
	}
	return reasons
}

func displayLabel(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
