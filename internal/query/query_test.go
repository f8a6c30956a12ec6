package query

import "testing"

func TestParseEnglishRoomAndObjectWithColor(t *testing.T) {
	p := Parse("kitchen with black table", "en")
	if p.Room != "kitchen" {
		t.Errorf("room = %q, want kitchen", p.Room)
	}
	found := false
	for _, o := range p.Objects {
		if (o.Label == "table" || o.Label == "dining_table") && o.Color == "black" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected table object with color black, got %+v", p.Objects)
	}
}

func TestParseCompoundRoomBeatsSingleWord(t *testing.T) {
	p := Parse("living room with sofa", "en")
	if p.Room != "living_room" {
		t.Errorf("room = %q, want living_room", p.Room)
	}
}

func TestDetectLangHebrew(t *testing.T) {
	if got := DetectLang("kitchen"); got != "en" {
		t.Errorf("got %q, want en", got)
	}
	if got := DetectLang("מטבח"); got != "he" {
		t.Errorf("got %q, want he", got)
	}
}

func TestParseAutoDetectsHebrewAndTranslates(t *testing.T) {
	p := Parse("מטבח", "auto")
	if p.Lang != "he" {
		t.Fatalf("lang = %q, want he", p.Lang)
	}
	if p.NormalizedText == "" {
		t.Error("expected non-empty normalized text")
	}
}

func TestParseNoRoomKeywordYieldsEmptyRoom(t *testing.T) {
	p := Parse("purple spaceship", "en")
	if p.Room != "" {
		t.Errorf("room = %q, want empty", p.Room)
	}
}
