// Package vocab holds the closed vocabularies codified in the glossary:
// canonical object labels, rooms, the 18-color palette, materials, the
// label synonym table, the room-classification weight matrix, and the
// Hebrew-to-English lexicon. All of it is loaded once from an embedded
// YAML file so the tables live as data, not scattered Go literals.
package vocab

import (
	_ "embed"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data.yaml
var rawYAML []byte

// Color is one entry of the 18-color palette with its CIELAB anchor.
type Color struct {
	Name string `yaml:"name"`
	LAB  struct {
		L float64 `yaml:"L"`
		A float64 `yaml:"a"`
		B float64 `yaml:"b"`
	} `yaml:"lab"`
}

// LexiconEntry is one Hebrew/English word pair.
type LexiconEntry struct {
	HE string `yaml:"he"`
	EN string `yaml:"en"`
}

type data struct {
	Rooms       []string                    `yaml:"rooms"`
	Labels      []string                    `yaml:"labels"`
	Materials   []string                    `yaml:"materials"`
	Colors      []Color                     `yaml:"colors"`
	Synonyms    map[string]string           `yaml:"synonyms"`
	RoomWeights map[string]map[string]float64 `yaml:"room_weights"`
	Lexicon     []LexiconEntry              `yaml:"lexicon"`
}

var (
	once   sync.Once
	parsed data
)

func load() {
	once.Do(func() {
		if err := yaml.Unmarshal(rawYAML, &parsed); err != nil {
			panic("vocab: failed to parse embedded data.yaml: " + err.Error())
		}
	})
}

// Rooms returns the closed set of room names, including "unknown".
func Rooms() []string {
	load()
	return parsed.Rooms
}

// Labels returns the canonical object label vocabulary.
func Labels() []string {
	load()
	return parsed.Labels
}

// Materials returns the closed set of material names, including "unknown".
func Materials() []string {
	load()
	return parsed.Materials
}

// Colors returns the 18-color palette.
func Colors() []Color {
	load()
	return parsed.Colors
}

// Canonicalize maps a raw detector label to its canonical vocabulary
// member via the synonym table. If no synonym is registered, the
// lowercased input is returned unchanged (it may already be canonical).
func Canonicalize(raw string) string {
	load()
	lower := strings.ToLower(raw)
	if canon, ok := parsed.Synonyms[lower]; ok {
		return canon
	}
	return lower
}

// RoomWeight returns W[label][room], 0 if no vote is registered.
func RoomWeight(label, room string) float64 {
	load()
	if m, ok := parsed.RoomWeights[label]; ok {
		return m[room]
	}
	return 0
}

// RoomWeightsFor returns the full room->weight map for a label.
func RoomWeightsFor(label string) map[string]float64 {
	load()
	return parsed.RoomWeights[label]
}

// Lexicon returns the Hebrew->English word pairs.
func Lexicon() []LexiconEntry {
	load()
	return parsed.Lexicon
}

// IsRoom reports whether s is a member of the room vocabulary.
func IsRoom(s string) bool {
	load()
	for _, r := range parsed.Rooms {
		if r == s {
			return true
		}
	}
	return false
}

// IsMaterial reports whether s is a member of the material vocabulary.
func IsMaterial(s string) bool {
	load()
	for _, m := range parsed.Materials {
		if m == s {
			return true
		}
	}
	return false
}

// IsLabel reports whether s is a member of the canonical label vocabulary.
func IsLabel(s string) bool {
	load()
	for _, l := range parsed.Labels {
		if l == s {
			return true
		}
	}
	return false
}
