// Package query parses and translates the short natural-language search
// query into structured filters (§4.5).
package query

import (
	"regexp"
	"strings"

	"imagesearch/internal/vocab"
)

// ObjectFilter is one object keyword extracted from the query, optionally
// qualified by a color and/or material attached to it.
type ObjectFilter struct {
	Label    string
	Color    string
	Material string
}

// Parsed is the structured result of parsing one query.
type Parsed struct {
	Room           string
	Objects        []ObjectFilter
	FreeColors     []string
	FreeMaterials  []string
	NormalizedText string
	Lang           string
}

var hebrewRange = regexp.MustCompile(`[\x{0590}-\x{05FF}]`)

// DetectLang returns "he" if s contains any Hebrew letter, else "en".
func DetectLang(s string) string {
	if hebrewRange.MatchString(s) {
		return "he"
	}
	return "en"
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func tokenize(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	fields := nonWord.Split(s, -1)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Translate maps Hebrew words to English word-by-word using the curated
// lexicon, leaving any untranslated word unchanged (§4.5). Words are
// matched case-/whitespace-insensitively against the lexicon's `he`
// column.
func Translate(words []string) []string {
	dict := make(map[string]string)
	for _, e := range vocab.Lexicon() {
		dict[strings.ToLower(strings.TrimSpace(e.HE))] = e.EN
	}
	out := make([]string, len(words))
	for i, w := range words {
		if en, ok := dict[w]; ok {
			out[i] = strings.ToLower(en)
		} else {
			out[i] = w
		}
	}
	return out
}

// phraseVocab builds a lookup from space-joined phrase (lowercase; matched
// by findOccurrences at up to two words) to its canonical underscore form, for longest-match-first
// extraction of multi-word vocabulary members.
func phraseVocab(canonical []string) map[string]string {
	m := make(map[string]string, len(canonical))
	for _, c := range canonical {
		phrase := strings.ReplaceAll(c, "_", " ")
		m[phrase] = c
	}
	return m
}

type occurrence struct {
	index int
	span  int
	value string
}

// findOccurrences scans words for the longest phrase match (up to 2
// words) against vocabPhrases at each starting position.
func findOccurrences(words []string, vocabPhrases map[string]string) []occurrence {
	var occs []occurrence
	i := 0
	for i < len(words) {
		matched := false
		if i+1 < len(words) {
			two := words[i] + " " + words[i+1]
			if canon, ok := vocabPhrases[two]; ok {
				occs = append(occs, occurrence{index: i, span: 2, value: canon})
				i += 2
				matched = true
			}
		}
		if !matched {
			if canon, ok := vocabPhrases[words[i]]; ok {
				occs = append(occs, occurrence{index: i, span: 1, value: canon})
			}
			i++
		}
	}
	return occs
}

// Parse extracts a Parsed query. lang is "en", "he", or "auto"; auto
// detects by Hebrew code-point range. Hebrew input is translated
// word-by-word before all downstream extraction.
func Parse(rawQuery string, lang string) Parsed {
	if lang == "" || lang == "auto" {
		lang = DetectLang(rawQuery)
	}

	words := tokenize(rawQuery)
	if lang == "he" {
		translated := Translate(words)
		// Lexicon entries may translate one Hebrew word into a multi-word
		// English phrase ("סלון" -> "living room"); re-split so downstream
		// phrase matching sees individual word tokens.
		words = tokenize(strings.Join(translated, " "))
	}

	roomPhrases := phraseVocab(vocab.Rooms())
	labelPhrases := phraseVocab(vocab.Labels())
	materialSet := make(map[string]string)
	for _, m := range vocab.Materials() {
		materialSet[m] = m
	}
	colorSet := make(map[string]string)
	for _, c := range vocab.Colors() {
		colorSet[strings.ToLower(c.Name)] = c.Name
	}

	roomOccs := findOccurrencesLongestFirst(words, roomPhrases)
	room := ""
	if len(roomOccs) > 0 {
		room = roomOccs[0].value
	}

	labelOccs := findOccurrences(words, labelPhrases)
	colorOccs := findOccurrences(words, colorSet)
	materialOccs := findOccurrences(words, materialSet)

	objects := make([]ObjectFilter, 0, len(labelOccs))
	for _, o := range labelOccs {
		objects = append(objects, ObjectFilter{Label: o.value})
	}

	var freeColors []string
	for _, c := range colorOccs {
		if idx, ok := nearestObject(objects, labelOccs, c.index); ok && objects[idx].Color == "" {
			objects[idx].Color = c.value
		} else {
			freeColors = append(freeColors, c.value)
		}
	}

	var freeMaterials []string
	for _, mt := range materialOccs {
		if idx, ok := nearestObject(objects, labelOccs, mt.index); ok && objects[idx].Material == "" {
			objects[idx].Material = mt.value
		} else {
			freeMaterials = append(freeMaterials, mt.value)
		}
	}

	return Parsed{
		Room:           room,
		Objects:        objects,
		FreeColors:     freeColors,
		FreeMaterials:  freeMaterials,
		NormalizedText: strings.Join(words, " "),
		Lang:           lang,
	}
}

// findOccurrencesLongestFirst matches room phrases, preferring 2-word
// compounds ("living room", "dining room", "kids room") over any
// single-word room match at the same position (§4.5).
func findOccurrencesLongestFirst(words []string, vocabPhrases map[string]string) []occurrence {
	return findOccurrences(words, vocabPhrases)
}

// nearestObject returns the index into objects/labelOccs of the object
// keyword token-closest to tokenIndex, preferring the closest by absolute
// token distance regardless of direction.
func nearestObject(objects []ObjectFilter, labelOccs []occurrence, tokenIndex int) (int, bool) {
	best := -1
	bestDist := 1 << 30
	for i, o := range labelOccs {
		dist := o.index - tokenIndex
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}
