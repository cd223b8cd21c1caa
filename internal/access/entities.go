package access

import (
	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/remote"
)

// VersionFilter selects rows by producing worker version.
type VersionFilter = cache.VersionFilter

// ElementRef is the view of an element used by every operation here. It is
// filled the same way from a cache row or a remote record.
type ElementRef struct {
	ID              string
	Type            string
	Image           *cache.Image
	Polygon         cache.Polygon
	Initial         bool
	WorkerVersionID *string

	// resolved is false for refs built from a bare id.
	resolved bool
}

// RefFromID builds an unresolved ref from an element id.
func RefFromID(id string) ElementRef {
	return ElementRef{ID: id}
}

// Resolved reports whether the ref carries the element's attributes.
func (r ElementRef) Resolved() bool {
	return r.resolved
}

// RefFromCache builds a ref from a cache row and its image, which may be nil.
func RefFromCache(el cache.Element, img *cache.Image) ElementRef {
	return ElementRef{
		ID:              el.ID,
		Type:            el.Type,
		Image:           img,
		Polygon:         el.Polygon,
		Initial:         el.Initial,
		WorkerVersionID: el.WorkerVersionID,
		resolved:        true,
	}
}

// RefFromRemote builds a ref from a remote record.
func RefFromRemote(rec remote.ElementRecord) ElementRef {
	ref := ElementRef{
		ID:              rec.ID,
		Type:            rec.Type,
		WorkerVersionID: rec.WorkerVersionID,
		resolved:        true,
	}
	if rec.Zone != nil {
		ref.Image = &cache.Image{
			ID:     rec.Zone.Image.ID,
			Width:  rec.Zone.Image.Width,
			Height: rec.Zone.Image.Height,
			URL:    rec.Zone.Image.URL,
		}
		ref.Polygon = toPolygon(rec.Zone.Polygon)
	}
	return ref
}

// ImageID returns the id of the element's image, or nil.
func (r ElementRef) ImageID() *string {
	if r.Image == nil {
		return nil
	}
	id := r.Image.ID
	return &id
}

// Transcription is a transcription read from either backend.
type Transcription struct {
	ID              string
	ElementID       string
	Text            string
	Confidence      float64
	WorkerVersionID *string
}

func transcriptionFromCache(tr cache.Transcription) Transcription {
	version := tr.WorkerVersionID
	return Transcription{
		ID:              tr.ID,
		ElementID:       tr.ElementID,
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		WorkerVersionID: &version,
	}
}

func transcriptionFromRemote(elementID string, tr remote.TranscriptionRecord) Transcription {
	if tr.Element != nil {
		elementID = tr.Element.ID
	}
	return Transcription{
		ID:              tr.ID,
		ElementID:       elementID,
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		WorkerVersionID: tr.WorkerVersionID,
	}
}

func toPolygon(points [][]float64) cache.Polygon {
	if points == nil {
		return nil
	}
	poly := make(cache.Polygon, len(points))
	for i, p := range points {
		poly[i] = cache.Point(p)
	}
	return poly
}
