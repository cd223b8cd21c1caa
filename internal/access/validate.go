package access

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tphakala/docworker/internal/errors"
)

// problems collects validation failures so one error reports all of them.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(op string) error {
	if len(p) == 0 {
		return nil
	}
	return errors.Newf("invalid %s arguments: %s", op, strings.Join(p, "; ")).
		Component("access").
		Category(errors.CategoryValidation).
		Context("operation", op).
		Context("problems", len(p)).
		Build()
}

func (p *problems) requireString(field, value string) {
	if strings.TrimSpace(value) == "" {
		p.addf("%s must be a non-empty string", field)
	}
}

func (p *problems) requireUUID(field, value string) {
	if _, err := uuid.Parse(value); err != nil {
		p.addf("%s must be a valid UUID, got %q", field, value)
	}
}

func (p *problems) requirePolygon(field string, polygon [][]float64) {
	if len(polygon) < 3 {
		p.addf("%s must have at least three points, got %d", field, len(polygon))
		return
	}
	for i, point := range polygon {
		if len(point) != 2 {
			p.addf("%s[%d] must have exactly two coordinates, got %d", field, i, len(point))
		}
	}
}

func (p *problems) requireScore(field string, score float64) {
	// NaN fails both comparisons.
	if !(score >= 0 && score <= 1) {
		p.addf("%s must be between 0 and 1, got %v", field, score)
	}
}

func (p *problems) requireImage(field string, ref ElementRef) {
	if ref.Image == nil {
		p.addf("%s %s has no image", field, ref.ID)
	}
}
