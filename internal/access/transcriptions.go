package access

import (
	"context"
	"fmt"

	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/report"
)

// Transcriptions groups the transcription operations of a Layer.
type Transcriptions struct {
	*deps
}

// TranscriptionInput is one transcription of a bulk create across elements.
type TranscriptionInput struct {
	ElementID  string
	Text       string
	Confidence float64
}

// ElementTranscriptionInput is a polygon and its text for
// CreateElementTranscriptions.
type ElementTranscriptionInput struct {
	Polygon    [][]float64
	Text       string
	Confidence float64
}

// ElementTranscription is the result of CreateElementTranscriptions for
// one input, in input order.
type ElementTranscription struct {
	TranscriptionID string
	ElementID       string
	ElementCreated  bool
}

// CreateTranscription attaches text to element. In read-only mode it
// returns nil.
func (t *Transcriptions) CreateTranscription(ctx context.Context, element ElementRef, text string, confidence float64) (*Transcription, error) {
	var p problems
	p.requireString("element id", element.ID)
	p.requireString("text", text)
	p.requireScore("confidence", confidence)
	if err := p.err("create_transcription"); err != nil {
		return nil, err
	}
	if t.skipWrite("create_transcription") {
		return nil, nil
	}

	rec, err := t.remote.CreateTranscription(ctx, element.ID, remote.CreateTranscriptionRequest{
		Text:          text,
		Confidence:    confidence,
		WorkerVersion: t.workerVersion,
	})
	if err != nil {
		return nil, err
	}
	t.reporter.AddTranscription(element.ID, rec.ID)

	tr := Transcription{
		ID:              rec.ID,
		ElementID:       element.ID,
		Text:            rec.Text,
		Confidence:      rec.Confidence,
		WorkerVersionID: t.versionPtr(),
	}
	if t.useCache {
		t.mirrorTranscriptions(ctx, []Transcription{tr})
	}
	return &tr, nil
}

// CreateTranscriptions creates transcriptions on several elements in one
// request.
func (t *Transcriptions) CreateTranscriptions(ctx context.Context, batch []TranscriptionInput) ([]Transcription, error) {
	var p problems
	if len(batch) == 0 {
		p.addf("transcriptions must not be empty")
	}
	for i, in := range batch {
		p.requireUUID(fmt.Sprintf("transcriptions[%d].element_id", i), in.ElementID)
		p.requireString(fmt.Sprintf("transcriptions[%d].text", i), in.Text)
		p.requireScore(fmt.Sprintf("transcriptions[%d].confidence", i), in.Confidence)
	}
	if err := p.err("create_transcriptions"); err != nil {
		return nil, err
	}
	if t.skipWrite("create_transcriptions") {
		return nil, nil
	}

	req := remote.CreateTranscriptionsRequest{
		WorkerVersion:  t.workerVersion,
		Transcriptions: make([]remote.TranscriptionSpec, len(batch)),
	}
	for i, in := range batch {
		req.Transcriptions[i] = remote.TranscriptionSpec{ElementID: in.ElementID, Text: in.Text, Confidence: in.Confidence}
	}

	resp, err := t.remote.CreateTranscriptions(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make([]Transcription, 0, len(resp.Transcriptions))
	for _, c := range resp.Transcriptions {
		t.reporter.AddTranscription(c.ElementID, c.ID)
		out = append(out, Transcription{
			ID:              c.ID,
			ElementID:       c.ElementID,
			Text:            c.Text,
			Confidence:      c.Confidence,
			WorkerVersionID: t.versionPtr(),
		})
	}
	if t.useCache && len(out) > 0 {
		t.mirrorTranscriptions(ctx, out)
	}
	return out, nil
}

// CreateElementTranscriptions creates sub-elements of subType under element
// with one transcription each. The service may reuse an existing
// sub-element; a child element entry is only reported when it says the
// element was created, and elements already in the cache are not inserted
// again.
func (t *Transcriptions) CreateElementTranscriptions(ctx context.Context, element ElementRef, subType string, batch []ElementTranscriptionInput) ([]ElementTranscription, error) {
	var p problems
	p.requireString("sub element type", subType)
	if len(batch) == 0 {
		p.addf("transcriptions must not be empty")
	}
	for i, in := range batch {
		p.requirePolygon(fmt.Sprintf("transcriptions[%d].polygon", i), in.Polygon)
		p.requireString(fmt.Sprintf("transcriptions[%d].text", i), in.Text)
		p.requireScore(fmt.Sprintf("transcriptions[%d].confidence", i), in.Confidence)
	}
	p.requireImage("element", element)
	if err := p.err("create_element_transcriptions"); err != nil {
		return nil, err
	}
	if t.skipWrite("create_element_transcriptions") {
		return nil, nil
	}

	req := remote.CreateElementTranscriptionsRequest{
		WorkerVersion:  t.workerVersion,
		ElementType:    subType,
		Transcriptions: make([]remote.ElementTranscriptionSpec, len(batch)),
		ReturnElements: true,
	}
	for i, in := range batch {
		req.Transcriptions[i] = remote.ElementTranscriptionSpec{Polygon: in.Polygon, Text: in.Text, Confidence: in.Confidence}
	}

	results, err := t.remote.CreateElementTranscriptions(ctx, element.ID, req)
	if err != nil {
		return nil, err
	}
	if len(results) != len(batch) {
		t.log.Warn("remote service returned an unexpected number of transcriptions",
			logger.String("element_id", element.ID),
			logger.Int("requested", len(batch)),
			logger.Int("returned", len(results)))
	}

	out := make([]ElementTranscription, len(results))
	for i, res := range results {
		if res.Created {
			t.reporter.AddElement(element.ID, res.ElementID, subType)
		}
		t.reporter.AddTranscription(res.ElementID, res.ID)
		out[i] = ElementTranscription{TranscriptionID: res.ID, ElementID: res.ElementID, ElementCreated: res.Created}
	}

	if t.useCache {
		t.mirrorElementTranscriptions(ctx, element, subType, batch, results)
	}
	return out, nil
}

// ListTranscriptions lists the transcriptions of element. With the cache,
// recursive listings are served remotely and the element type filter is
// unsupported.
func (t *Transcriptions) ListTranscriptions(ctx context.Context, element ElementRef, filter TranscriptionsFilter) ([]Transcription, error) {
	var p problems
	p.requireString("element id", element.ID)
	if err := p.err("list_transcriptions"); err != nil {
		return nil, err
	}
	return t.entities.Transcriptions(ctx, element, filter)
}

func (t *Transcriptions) mirrorTranscriptions(ctx context.Context, trs []Transcription) {
	rows := make([]cache.Transcription, len(trs))
	ids := make([]string, len(trs))
	for i, tr := range trs {
		rows[i] = cache.Transcription{
			ID:              tr.ID,
			ElementID:       tr.ElementID,
			Text:            tr.Text,
			Confidence:      tr.Confidence,
			WorkerVersionID: t.workerVersion,
		}
		ids[i] = tr.ID
	}
	if err := t.store.InsertTranscriptions(ctx, rows); err != nil {
		t.mirrorFailed(report.KindTranscription, ids, err)
		return
	}
	t.mirrorDone(report.KindTranscription, len(rows))
}

func (t *Transcriptions) mirrorElementTranscriptions(ctx context.Context, parent ElementRef, subType string, batch []ElementTranscriptionInput, results []remote.ElementTranscriptionResult) {
	n := min(len(batch), len(results))

	elementIDs := make([]string, n)
	for i := range n {
		elementIDs[i] = results[i].ElementID
	}

	existing, err := t.store.ExistingElementIDs(ctx, elementIDs)
	if err != nil {
		t.mirrorFailed(report.KindElement, elementIDs, err)
		existing = nil
	}

	if existing != nil {
		parentID := parent.ID
		var rows []cache.Element
		var newIDs []string
		for i := range n {
			id := results[i].ElementID
			if existing[id] {
				continue
			}
			existing[id] = true
			rows = append(rows, cache.Element{
				ID:              id,
				ParentID:        &parentID,
				Type:            subType,
				ImageID:         parent.ImageID(),
				Polygon:         toPolygon(batch[i].Polygon),
				WorkerVersionID: t.versionPtr(),
			})
			newIDs = append(newIDs, id)
		}
		if len(rows) > 0 {
			if err := t.insertChildren(ctx, parent.Image, rows); err != nil {
				t.mirrorFailed(report.KindElement, newIDs, err)
			} else {
				t.mirrorDone(report.KindElement, len(rows))
			}
		}
	}

	trs := make([]Transcription, n)
	for i := range n {
		trs[i] = Transcription{
			ID:         results[i].ID,
			ElementID:  results[i].ElementID,
			Text:       batch[i].Text,
			Confidence: batch[i].Confidence,
		}
	}
	if n > 0 {
		t.mirrorTranscriptions(ctx, trs)
	}
}

func (t *Transcriptions) insertChildren(ctx context.Context, img *cache.Image, rows []cache.Element) error {
	if err := t.mirrorImage(ctx, img); err != nil {
		return err
	}
	return t.store.InsertElements(ctx, rows)
}
