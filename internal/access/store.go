package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/remote"
)

// ChildrenFilter narrows ListChildren.
type ChildrenFilter struct {
	Type          string
	Name          string
	WorkerVersion *VersionFilter
	Recursive     bool
}

// TranscriptionsFilter narrows ListTranscriptions. ElementType only applies
// to recursive listings.
type TranscriptionsFilter struct {
	WorkerVersion *VersionFilter
	Recursive     bool
	ElementType   string
}

// EntityStore is the read side of the access layer.
type EntityStore interface {
	Element(ctx context.Context, id string) (ElementRef, error)
	Children(ctx context.Context, parent ElementRef, filter ChildrenFilter) ([]ElementRef, error)
	Transcriptions(ctx context.Context, element ElementRef, filter TranscriptionsFilter) ([]Transcription, error)
}

// =============================================================================
// Remote
// =============================================================================

// RemoteEntityStore reads everything from the remote service.
type RemoteEntityStore struct {
	svc remote.Service
}

// NewRemoteEntityStore returns a store backed by svc.
func NewRemoteEntityStore(svc remote.Service) *RemoteEntityStore {
	return &RemoteEntityStore{svc: svc}
}

// Element fetches one element.
func (s *RemoteEntityStore) Element(ctx context.Context, id string) (ElementRef, error) {
	rec, err := s.svc.RetrieveElement(ctx, id)
	if err != nil {
		return ElementRef{}, err
	}
	return RefFromRemote(*rec), nil
}

// Children lists the children of parent.
func (s *RemoteEntityStore) Children(ctx context.Context, parent ElementRef, filter ChildrenFilter) ([]ElementRef, error) {
	rf := remote.ElementFilter{
		Type:      filter.Type,
		Name:      filter.Name,
		Recursive: filter.Recursive,
	}
	if v := filter.WorkerVersion; v != nil {
		rf.ManualOnly = v.Manual
		if !v.Manual {
			rf.WorkerVersion = v.ID
		}
	}

	records, err := s.svc.ListChildren(ctx, parent.ID, rf)
	if err != nil {
		return nil, err
	}
	refs := make([]ElementRef, 0, len(records))
	for _, rec := range records {
		refs = append(refs, RefFromRemote(rec))
	}
	return refs, nil
}

// Transcriptions lists the transcriptions of element.
func (s *RemoteEntityStore) Transcriptions(ctx context.Context, element ElementRef, filter TranscriptionsFilter) ([]Transcription, error) {
	rf := remote.TranscriptionFilter{
		Recursive:   filter.Recursive,
		ElementType: filter.ElementType,
	}
	if v := filter.WorkerVersion; v != nil {
		rf.ManualOnly = v.Manual
		if !v.Manual {
			rf.WorkerVersion = v.ID
		}
	}

	records, err := s.svc.ListTranscriptions(ctx, element.ID, rf)
	if err != nil {
		return nil, err
	}
	out := make([]Transcription, 0, len(records))
	for _, rec := range records {
		out = append(out, transcriptionFromRemote(element.ID, rec))
	}
	return out, nil
}

// =============================================================================
// Cache
// =============================================================================

// CachedEntityStore reads from the local cache. Queries the cache cannot
// answer go to fallback.
type CachedEntityStore struct {
	store    *cache.Store
	fallback EntityStore
	log      logger.Logger
}

// NewCachedEntityStore returns a store backed by store.
func NewCachedEntityStore(store *cache.Store, fallback EntityStore, log logger.Logger) *CachedEntityStore {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &CachedEntityStore{store: store, fallback: fallback, log: log}
}

// Element reads the element from the cache, fetching it remotely once when
// it is not cached.
func (s *CachedEntityStore) Element(ctx context.Context, id string) (ElementRef, error) {
	el, err := s.store.GetElement(ctx, id)
	switch {
	case err == nil:
		return s.withImages(ctx, []cache.Element{*el})[0], nil
	case errors.IsNotFound(err) && s.fallback != nil:
		return s.fallback.Element(ctx, id)
	default:
		return ElementRef{}, err
	}
}

// Children lists direct children from the cache. Recursive listings are
// delegated to the fallback.
func (s *CachedEntityStore) Children(ctx context.Context, parent ElementRef, filter ChildrenFilter) ([]ElementRef, error) {
	var unsupported []string
	if filter.Name != "" {
		unsupported = append(unsupported, "name")
	}
	if len(unsupported) > 0 {
		return nil, unsupportedFilter("list_children", unsupported, []string{"type", "worker_version"})
	}

	if filter.Recursive {
		if s.fallback == nil {
			return nil, unsupportedFilter("list_children", []string{"recursive"}, []string{"type", "worker_version"})
		}
		s.log.Warn("recursive listing is not supported by the local cache, querying the remote service",
			logger.String("parent_id", parent.ID))
		return s.fallback.Children(ctx, parent, filter)
	}

	rows, err := s.store.ChildElements(ctx, parent.ID, cache.ElementQuery{
		Type:          filter.Type,
		WorkerVersion: filter.WorkerVersion,
	})
	if err != nil {
		return nil, err
	}
	return s.withImages(ctx, rows), nil
}

// Transcriptions lists transcriptions of element from the cache. Recursive
// listings are delegated to the fallback.
func (s *CachedEntityStore) Transcriptions(ctx context.Context, element ElementRef, filter TranscriptionsFilter) ([]Transcription, error) {
	if filter.Recursive {
		if s.fallback == nil {
			return nil, unsupportedFilter("list_transcriptions", []string{"recursive"}, []string{"worker_version"})
		}
		s.log.Warn("recursive listing is not supported by the local cache, querying the remote service",
			logger.String("element_id", element.ID))
		return s.fallback.Transcriptions(ctx, element, filter)
	}
	if filter.ElementType != "" {
		return nil, unsupportedFilter("list_transcriptions", []string{"element_type"}, []string{"worker_version"})
	}

	rows, err := s.store.ElementTranscriptions(ctx, element.ID, filter.WorkerVersion)
	if err != nil {
		return nil, err
	}
	out := make([]Transcription, 0, len(rows))
	for _, row := range rows {
		out = append(out, transcriptionFromCache(row))
	}
	return out, nil
}

// withImages converts rows to refs, loading each distinct image once.
// Missing images leave Image nil.
func (s *CachedEntityStore) withImages(ctx context.Context, rows []cache.Element) []ElementRef {
	images := make(map[string]*cache.Image)
	refs := make([]ElementRef, 0, len(rows))
	for _, row := range rows {
		var img *cache.Image
		if row.ImageID != nil {
			var ok bool
			if img, ok = images[*row.ImageID]; !ok {
				loaded, err := s.store.GetImage(ctx, *row.ImageID)
				if err != nil {
					s.log.Debug("image not in cache",
						logger.String("image_id", *row.ImageID),
						logger.String("element_id", row.ID))
				}
				img = loaded
				images[*row.ImageID] = img
			}
		}
		refs = append(refs, RefFromCache(row, img))
	}
	return refs
}

func unsupportedFilter(op string, used, allowed []string) error {
	return errors.Newf("filters %s are not supported with the local cache, allowed filters: %s",
		strings.Join(used, ", "), strings.Join(allowed, ", ")).
		Component("access").
		Category(errors.CategoryUnsupportedFilter).
		Context("operation", op).
		Context("filters", fmt.Sprint(used)).
		Build()
}
