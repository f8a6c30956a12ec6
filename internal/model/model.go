// Package model defines the five normalized entities of the backing store
// and the facts record attached to each image.
package model

// LAB is a point in CIELAB color space.
type LAB struct {
	L float64 `json:"L"`
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// BBox is a pixel-space bounding box, top-left origin.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Image is the root entity of the tree rooted at one indexed photograph.
type Image struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	FileName    string    `json:"file_name"`
	FolderPath  string    `json:"folder_path"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Phash       uint64    `json:"phash"`
	CapturedAt  *int64    `json:"captured_at,omitempty"`
	Room        string    `json:"room"`
	RoomConf    float64   `json:"room_confidence"`
	StyleTags   []string  `json:"style_tags"`
	AnalysisPartial bool  `json:"analysis_partial"`
	IndexedAt   int64     `json:"indexed_at"`
}

// Object is one detected, colored, and materially-classified region within
// an Image.
type Object struct {
	ID               string   `json:"id"`
	ImageID          string   `json:"image_id"`
	Label            string   `json:"label"`
	LabelConfidence  float64  `json:"label_confidence"`
	BBox             BBox     `json:"bbox"`
	ColorName        string   `json:"color_name"`
	ColorLAB         LAB      `json:"color_lab"`
	SecondaryColors  []string `json:"secondary_colors"`
	Material         string   `json:"material"`
	MaterialConf     float64  `json:"material_confidence"`
	AreaPixels       int64    `json:"area_pixels"`
}

// RoomScore is one non-zero room-classification vote for an Image.
type RoomScore struct {
	ImageID string  `json:"image_id"`
	Room    string  `json:"room"`
	Score   float64 `json:"score"`
}

// Facts is the tagged record attached to Caption.facts. Known keys are
// typed fields; Rest carries any further keys. Rest is excluded by the
// struct's own JSON tags: store.marshalFacts merges it into the persisted
// facts object, and nothing decodes persisted keys back into Rest.
type Facts struct {
	Room            string          `json:"room,omitempty"`
	Objects         []string        `json:"objects,omitempty"`
	AnalysisPartial bool            `json:"analysis_partial,omitempty"`
	Rest            map[string]any  `json:"-"`
}

// Caption is the single rendered description plus its embedding for one
// Image.
type Caption struct {
	ImageID    string    `json:"image_id"`
	CaptionEN  string    `json:"caption_en"`
	CaptionHE  *string   `json:"caption_he,omitempty"`
	Facts      Facts     `json:"facts"`
	EmbedEN    []float32 `json:"-"`
}

// Tag is one denormalized searchable facet of an Image, of the form
// "room:<room>", "obj:<label>", "col:<name>", "mat:<name>", "style:<name>".
type Tag struct {
	ImageID string `json:"image_id"`
	Tag     string `json:"tag"`
}
