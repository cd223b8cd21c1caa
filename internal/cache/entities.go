package cache

// Point is one (x, y) vertex of a polygon.
type Point = []float64

// Polygon is an ordered list of points, stored as JSON text.
type Polygon []Point

// BoundingBox returns the axis-aligned box of the polygon as x, y, width, height.
func (p Polygon) BoundingBox() (x, y, width, height int) {
	if len(p) == 0 {
		return 0, 0, 0, 0
	}
	minX, minY := p[0][0], p[0][1]
	maxX, maxY := minX, minY
	for _, pt := range p[1:] {
		minX = min(minX, pt[0])
		minY = min(minY, pt[1])
		maxX = max(maxX, pt[0])
		maxY = max(maxY, pt[1])
	}
	return int(minX), int(minY), int(maxX - minX), int(maxY - minY)
}

// Image is an immutable bitmap referenced by elements.
type Image struct {
	ID     string `gorm:"primaryKey;type:varchar(37)"`
	Width  int    `gorm:"not null"`
	Height int    `gorm:"not null"`
	URL    string `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (Image) TableName() string {
	return "images"
}

// Element is a node in the region tree. A nil WorkerVersionID marks
// manually created data.
type Element struct {
	ID              string  `gorm:"primaryKey;type:varchar(37)"`
	ParentID        *string `gorm:"type:varchar(37)"`
	Type            string  `gorm:"not null"`
	ImageID         *string `gorm:"type:varchar(37)"`
	Polygon         Polygon `gorm:"serializer:json"`
	Initial         bool    `gorm:"not null"`
	WorkerVersionID *string `gorm:"type:varchar(37)"`
}

// TableName returns the table name for GORM.
func (Element) TableName() string {
	return "elements"
}

// Transcription is text with a confidence score attached to an element.
type Transcription struct {
	ID              string  `gorm:"primaryKey;type:varchar(37)"`
	ElementID       string  `gorm:"not null;type:varchar(37)"`
	Text            string  `gorm:"not null"`
	Confidence      float64 `gorm:"not null"`
	WorkerVersionID string  `gorm:"not null;type:varchar(37)"`
}

// TableName returns the table name for GORM.
func (Transcription) TableName() string {
	return "transcriptions"
}

// VersionFilter restricts rows by producing worker version. Manual selects
// rows without a version and takes precedence over ID.
type VersionFilter struct {
	ID     string
	Manual bool
}

// ElementQuery narrows ChildElements. Zero values match everything.
type ElementQuery struct {
	Type          string
	WorkerVersion *VersionFilter
}

// Counts holds per-table row counts.
type Counts struct {
	Images         int64 `json:"images"`
	Elements       int64 `json:"elements"`
	Transcriptions int64 `json:"transcriptions"`
}
