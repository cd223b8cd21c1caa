// Package report collects what a worker run created and which elements
// failed, and writes it as JSON at the end of the run.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
)

// Kind is the type of a report entry.
type Kind string

const (
	KindElement       Kind = "element"
	KindTranscription Kind = "transcription"
	KindError         Kind = "error"
)

// Entry is one append-only record. ElementID is the element the event is
// about: the parent for created children, the target for transcriptions.
type Entry struct {
	ElementID string    `json:"element_id"`
	Kind      Kind      `json:"kind"`
	EntityID  string    `json:"entity_id,omitempty"`
	Type      string    `json:"type,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// ElementSummary aggregates the entries of one element.
type ElementSummary struct {
	Elements       map[string]int `json:"elements"`
	Transcriptions int            `json:"transcriptions"`
	Errors         []string       `json:"errors"`
}

// Document is the JSON layout written by Save.
type Document struct {
	Name     string                     `json:"name"`
	Started  time.Time                  `json:"started"`
	Ended    time.Time                  `json:"ended"`
	Elements map[string]*ElementSummary `json:"elements"`
	Entries  []Entry                    `json:"entries"`
	// CacheIncomplete lists, per entity kind, ids created remotely that
	// could not be mirrored into the local cache.
	CacheIncomplete map[Kind][]string `json:"cache_incomplete"`
}

// Reporter is safe for concurrent use.
type Reporter struct {
	mu         sync.Mutex
	name       string
	started    time.Time
	entries    []Entry
	incomplete map[Kind][]string
	now        func() time.Time
	log        logger.Logger
}

// New returns an empty report for the worker called name.
func New(name string, log logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	r := &Reporter{
		name:       name,
		incomplete: make(map[Kind][]string),
		now:        time.Now,
		log:        log.Module("report"),
	}
	r.started = r.now()
	return r
}

func (r *Reporter) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Time = r.now()
	r.entries = append(r.entries, e)
}

// AddElement records the creation of child, of childType, under parentID.
func (r *Reporter) AddElement(parentID, childID, childType string) {
	r.add(Entry{ElementID: parentID, Kind: KindElement, EntityID: childID, Type: childType})
}

// AddTranscription records a transcription created on elementID.
func (r *Reporter) AddTranscription(elementID, transcriptionID string) {
	r.add(Entry{ElementID: elementID, Kind: KindTranscription, EntityID: transcriptionID})
}

// Error records that processing elementID failed with err.
func (r *Reporter) Error(elementID string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	r.add(Entry{ElementID: elementID, Kind: KindError, Error: msg})
}

// MarkCacheIncomplete records ids of kind that exist remotely but not in
// the local cache.
func (r *Reporter) MarkCacheIncomplete(kind Kind, ids ...string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incomplete[kind] = append(r.incomplete[kind], ids...)
	r.log.Warn("local cache lags remote service",
		logger.String("kind", string(kind)),
		logger.Strings("ids", ids))
}

// Entries returns a copy of all entries in insertion order.
func (r *Reporter) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// CacheIncomplete returns a copy of the ids missing from the local cache.
func (r *Reporter) CacheIncomplete() map[Kind][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Kind][]string, len(r.incomplete))
	for k, ids := range r.incomplete {
		out[k] = slices.Clone(ids)
	}
	return out
}

// Document builds the JSON document from the current entries.
func (r *Reporter) Document() Document {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := Document{
		Name:            r.name,
		Started:         r.started,
		Ended:           r.now(),
		Elements:        make(map[string]*ElementSummary),
		Entries:         slices.Clone(r.entries),
		CacheIncomplete: make(map[Kind][]string, len(r.incomplete)),
	}
	for k, ids := range r.incomplete {
		doc.CacheIncomplete[k] = slices.Clone(ids)
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}

	for _, e := range r.entries {
		summary, ok := doc.Elements[e.ElementID]
		if !ok {
			summary = &ElementSummary{Elements: make(map[string]int), Errors: []string{}}
			doc.Elements[e.ElementID] = summary
		}
		switch e.Kind {
		case KindElement:
			summary.Elements[e.Type]++
		case KindTranscription:
			summary.Transcriptions++
		case KindError:
			summary.Errors = append(summary.Errors, e.Error)
		}
	}
	return doc
}

// Save writes the report to path, replacing any previous file.
func (r *Reporter) Save(path string) error {
	doc := r.Document()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.New(fmt.Errorf("failed to encode report: %w", err)).
			Component("report").
			Category(errors.CategoryProcessing).
			Build()
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return reportFileError(err, path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return reportFileError(err, path)
	}

	r.log.Info("report saved",
		logger.String("path", filepath.Clean(path)),
		logger.Int("entries", len(doc.Entries)),
		logger.Int("elements", len(doc.Elements)))
	return nil
}

func reportFileError(err error, path string) error {
	return errors.New(fmt.Errorf("failed to write report %s: %w", path, err)).
		Component("report").
		Category(errors.CategoryFileIO).
		FileContext(path).
		Build()
}
