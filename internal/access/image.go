package access

import (
	"fmt"
	"strings"

	"github.com/tphakala/docworker/internal/errors"
)

// ImageURL returns the IIIF URL to download the image of el. The image is
// only scaled down when the element covers its whole image and maxSize is
// below the larger dimension; otherwise the full image is requested so the
// element can be cropped from it.
func (e *Elements) ImageURL(el ElementRef, maxSize int) (string, error) {
	if el.Image == nil {
		return "", errors.Newf("element %s has no image", el.ID).
			Component("access").
			Category(errors.CategoryValidation).
			Context("element_id", el.ID).
			Build()
	}
	if maxSize < 0 {
		return "", errors.ValidationError(fmt.Sprintf("max size must not be negative, got %d", maxSize))
	}
	return iiifURL(el.Image.URL, "full", resizeSpec(el, maxSize)), nil
}

func resizeSpec(el ElementRef, maxSize int) string {
	img := el.Image
	if maxSize == 0 || !coversImage(el) {
		return "full"
	}
	longest := max(img.Width, img.Height)
	if longest <= maxSize {
		return "full"
	}
	ratio := float64(maxSize) / float64(longest)
	width := int(float64(img.Width) * ratio)
	height := int(float64(img.Height) * ratio)
	return fmt.Sprintf("%d,%d", max(width, 1), max(height, 1))
}

// coversImage reports whether the polygon's bounding box is the full image.
// Elements without a polygon cover their image.
func coversImage(el ElementRef) bool {
	if len(el.Polygon) == 0 {
		return true
	}
	x, y, w, h := el.Polygon.BoundingBox()
	return x == 0 && y == 0 && w == el.Image.Width && h == el.Image.Height
}

func iiifURL(base, region, size string) string {
	return fmt.Sprintf("%s/%s/%s/0/default.jpg", strings.TrimRight(base, "/"), region, size)
}
