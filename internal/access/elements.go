package access

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/report"
)

// Elements groups the element operations of a Layer.
type Elements struct {
	*deps
}

// ElementSpec describes one element to create in bulk.
type ElementSpec struct {
	Name    string
	Type    string
	Polygon [][]float64
}

// RootSource lists the elements a run processes when the cache has no
// initial elements. IDs and File are mutually exclusive; when both are
// empty the process elements are listed remotely.
type RootSource struct {
	IDs  []string
	File string
}

// CreateSubElement creates one child of parent on parent's image and
// returns its id. In read-only mode it returns an empty id.
func (e *Elements) CreateSubElement(ctx context.Context, parent ElementRef, elementType, name string, polygon [][]float64) (string, error) {
	var p problems
	p.requireString("type", elementType)
	p.requireString("name", name)
	p.requirePolygon("polygon", polygon)
	p.requireImage("parent", parent)
	if err := p.err("create_sub_element"); err != nil {
		return "", err
	}
	if e.skipWrite("create_sub_element") {
		return "", nil
	}

	created, err := e.remote.CreateElement(ctx, remote.CreateElementRequest{
		Type:          elementType,
		Name:          name,
		Image:         parent.Image.ID,
		Parent:        parent.ID,
		Polygon:       polygon,
		WorkerVersion: e.workerVersion,
	})
	if err != nil {
		return "", err
	}
	e.reporter.AddElement(parent.ID, created.ID, elementType)

	if e.useCache {
		row := e.childRow(parent, created.ID, elementType, polygon)
		if err := e.mirrorElements(ctx, parent.Image, []cache.Element{row}); err != nil {
			e.mirrorFailed(report.KindElement, []string{created.ID}, err)
		} else {
			e.mirrorDone(report.KindElement, 1)
		}
	}
	return created.ID, nil
}

// CreateElements creates children of parent in one request and returns
// their ids in the order of specs. Nothing is sent when any spec is
// invalid.
func (e *Elements) CreateElements(ctx context.Context, parent ElementRef, specs []ElementSpec) ([]string, error) {
	var p problems
	if len(specs) == 0 {
		p.addf("elements must not be empty")
	}
	for i, spec := range specs {
		p.requireString(fmt.Sprintf("elements[%d].name", i), spec.Name)
		p.requireString(fmt.Sprintf("elements[%d].type", i), spec.Type)
		p.requirePolygon(fmt.Sprintf("elements[%d].polygon", i), spec.Polygon)
	}
	p.requireImage("parent", parent)
	if err := p.err("create_elements"); err != nil {
		return nil, err
	}
	if e.skipWrite("create_elements") {
		return nil, nil
	}

	req := remote.CreateElementsRequest{
		WorkerVersion: e.workerVersion,
		Elements:      make([]remote.ElementSpec, len(specs)),
	}
	for i, spec := range specs {
		req.Elements[i] = remote.ElementSpec{Name: spec.Name, Type: spec.Type, Polygon: spec.Polygon}
	}

	created, err := e.remote.CreateElements(ctx, parent.ID, req)
	if err != nil {
		return nil, err
	}
	n := min(len(created), len(specs))
	if len(created) != len(specs) {
		extra := make([]string, 0, len(created)-n)
		for _, c := range created[n:] {
			extra = append(extra, c.ID)
		}
		e.log.Warn("remote service returned an unexpected number of elements",
			logger.String("parent_id", parent.ID),
			logger.Int("requested", len(specs)),
			logger.Int("created", len(created)),
			logger.Strings("unmatched_ids", extra))
	}

	// Ids without a matching spec have no known type and are neither
	// returned nor reported.
	ids := make([]string, n)
	rows := make([]cache.Element, n)
	for i, c := range created[:n] {
		ids[i] = c.ID
		e.reporter.AddElement(parent.ID, c.ID, specs[i].Type)
		rows[i] = e.childRow(parent, c.ID, specs[i].Type, specs[i].Polygon)
	}

	if e.useCache && len(rows) > 0 {
		if err := e.mirrorElements(ctx, parent.Image, rows); err != nil {
			e.mirrorFailed(report.KindElement, ids, err)
		} else {
			e.mirrorDone(report.KindElement, len(rows))
		}
	}
	return ids, nil
}

// ListChildren lists the children of parent. With the cache, only the type
// and worker version filters are supported; recursive listings are served
// remotely.
func (e *Elements) ListChildren(ctx context.Context, parent ElementRef, filter ChildrenFilter) ([]ElementRef, error) {
	var p problems
	p.requireString("parent id", parent.ID)
	if err := p.err("list_children"); err != nil {
		return nil, err
	}
	return e.entities.Children(ctx, parent, filter)
}

// ListRootElements returns the elements a run processes: the initial cache
// rows when there are any, otherwise the elements named by src, otherwise
// the elements of the configured process. Refs built from ids are
// unresolved.
func (e *Elements) ListRootElements(ctx context.Context, src RootSource) ([]ElementRef, error) {
	if len(src.IDs) > 0 && src.File != "" {
		return nil, invalidInput("element ids and an elements file cannot be used together")
	}

	if e.useCache {
		rows, err := e.store.InitialElements(ctx)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			cached, ok := e.entities.(*CachedEntityStore)
			if !ok {
				cached = NewCachedEntityStore(e.store, nil, e.log)
			}
			e.log.Info("processing initial elements from the local cache",
				logger.Int("count", len(rows)))
			return cached.withImages(ctx, rows), nil
		}
	}

	ids := src.IDs
	if src.File != "" {
		var err error
		if ids, err = readElementsFile(src.File); err != nil {
			return nil, err
		}
	}
	if ids != nil {
		if len(ids) == 0 {
			return nil, invalidInput("element list is empty")
		}
		refs := make([]ElementRef, len(ids))
		for i, id := range ids {
			refs[i] = RefFromID(id)
		}
		return refs, nil
	}

	if e.processID == "" {
		return nil, invalidInput("no elements to process: pass element ids, an elements file or a process id")
	}
	records, err := e.remote.ListProcessElements(ctx, e.processID)
	if err != nil {
		return nil, err
	}
	refs := make([]ElementRef, 0, len(records))
	for _, rec := range records {
		refs = append(refs, RefFromRemote(rec))
	}
	return refs, nil
}

// elementsFileEntry is one item of an elements file, a JSON array of
// objects with an id.
type elementsFileEntry struct {
	ID   string `json:"id"`
	Type string `json:"type,omitempty"`
}

func readElementsFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read elements file: %w", err)).
			Component("access").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}
	var entries []elementsFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.New(fmt.Errorf("failed to parse elements file: %w", err)).
			Component("access").
			Category(errors.CategoryFileParsing).
			FileContext(path).
			Build()
	}
	ids := make([]string, 0, len(entries))
	for i, entry := range entries {
		if entry.ID == "" {
			return nil, invalidInput(fmt.Sprintf("elements file entry %d has no id", i))
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

func invalidInput(msg string) error {
	return errors.Newf("%s", msg).
		Component("access").
		Category(errors.CategoryInvalidInput).
		Build()
}

func (e *Elements) childRow(parent ElementRef, id, elementType string, polygon [][]float64) cache.Element {
	parentID := parent.ID
	return cache.Element{
		ID:              id,
		ParentID:        &parentID,
		Type:            elementType,
		ImageID:         parent.ImageID(),
		Polygon:         toPolygon(polygon),
		WorkerVersionID: e.versionPtr(),
	}
}

func (e *Elements) mirrorElements(ctx context.Context, img *cache.Image, rows []cache.Element) error {
	if err := e.mirrorImage(ctx, img); err != nil {
		return err
	}
	return e.store.InsertElements(ctx, rows)
}
