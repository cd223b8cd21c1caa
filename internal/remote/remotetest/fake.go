// Package remotetest provides an in-memory remote.Service for tests.
package remotetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/remote"
)

// Activity is one recorded UpdateActivity call.
type Activity struct {
	WorkerVersionID string
	ElementID       string
	State           remote.ActivityState
}

// Fake records calls and serves canned data. Zero values are usable after
// New. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	Elements        map[string]remote.ElementRecord
	Children        map[string][]remote.ElementRecord
	ProcessElements []remote.ElementRecord
	Transcriptions  map[string][]remote.TranscriptionRecord

	// ElementTranscriptionResults, when set, is returned by
	// CreateElementTranscriptions instead of generated rows.
	ElementTranscriptionResults []remote.ElementTranscriptionResult

	// ExtraCreatedElements adds ids to every CreateElements response that
	// match no requested element.
	ExtraCreatedElements int

	activities []Activity
	calls      map[string]int
	failures   map[string][]error
	always     map[string]error
}

var _ remote.Service = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Elements:       make(map[string]remote.ElementRecord),
		Children:       make(map[string][]remote.ElementRecord),
		Transcriptions: make(map[string][]remote.TranscriptionRecord),
		calls:          make(map[string]int),
		failures:       make(map[string][]error),
		always:         make(map[string]error),
	}
}

// FailNext queues errs to be returned by the next calls of op, in order.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// FailAlways makes every call of op return err. A nil err clears it.
func (f *Fake) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.always, op)
		return
	}
	f.always[op] = err
}

// Calls returns how many times op was called.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Activities returns the recorded activity updates in call order.
func (f *Fake) Activities() []Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Activity(nil), f.activities...)
}

// enter counts the call and returns the scripted failure, if any. Callers
// hold f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	if queued := f.failures[op]; len(queued) > 0 {
		f.failures[op] = queued[1:]
		return queued[0]
	}
	return f.always[op]
}

// StatusError builds the error HTTPService returns for status.
func StatusError(status int) error {
	category := errors.CategoryRemote
	switch {
	case status == 404:
		category = errors.CategoryNotFound
	case status >= 500:
		category = errors.CategoryRemoteTransient
	}
	return errors.Newf("remote call failed with status %d", status).
		Component("remote").
		Category(category).
		Context("status_code", status).
		Build()
}

func (f *Fake) RetrieveElement(_ context.Context, id string) (*remote.ElementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RetrieveElement"); err != nil {
		return nil, err
	}
	el, ok := f.Elements[id]
	if !ok {
		return nil, StatusError(404)
	}
	return &el, nil
}

func (f *Fake) ListChildren(_ context.Context, parentID string, filter remote.ElementFilter) ([]remote.ElementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListChildren"); err != nil {
		return nil, err
	}
	var out []remote.ElementRecord
	for _, el := range f.Children[parentID] {
		if filter.Type != "" && el.Type != filter.Type {
			continue
		}
		if filter.ManualOnly && el.WorkerVersionID != nil {
			continue
		}
		if filter.WorkerVersion != "" && (el.WorkerVersionID == nil || *el.WorkerVersionID != filter.WorkerVersion) {
			continue
		}
		out = append(out, el)
	}
	return out, nil
}

func (f *Fake) ListProcessElements(_ context.Context, _ string) ([]remote.ElementRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListProcessElements"); err != nil {
		return nil, err
	}
	return append([]remote.ElementRecord(nil), f.ProcessElements...), nil
}

func (f *Fake) ListTranscriptions(_ context.Context, elementID string, filter remote.TranscriptionFilter) ([]remote.TranscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListTranscriptions"); err != nil {
		return nil, err
	}
	var out []remote.TranscriptionRecord
	for _, tr := range f.Transcriptions[elementID] {
		if filter.ManualOnly && tr.WorkerVersionID != nil {
			continue
		}
		if filter.WorkerVersion != "" && (tr.WorkerVersionID == nil || *tr.WorkerVersionID != filter.WorkerVersion) {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (f *Fake) CreateElement(_ context.Context, req remote.CreateElementRequest) (*remote.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateElement"); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	version := req.WorkerVersion
	f.Elements[id] = remote.ElementRecord{ID: id, Type: req.Type, Name: req.Name, WorkerVersionID: &version}
	return &remote.Created{ID: id}, nil
}

func (f *Fake) CreateElements(_ context.Context, parentID string, req remote.CreateElementsRequest) ([]remote.Created, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateElements"); err != nil {
		return nil, err
	}
	created := make([]remote.Created, 0, len(req.Elements))
	for _, spec := range req.Elements {
		id := uuid.NewString()
		version := req.WorkerVersion
		el := remote.ElementRecord{ID: id, Type: spec.Type, Name: spec.Name, WorkerVersionID: &version}
		f.Elements[id] = el
		f.Children[parentID] = append(f.Children[parentID], el)
		created = append(created, remote.Created{ID: id})
	}
	for range f.ExtraCreatedElements {
		created = append(created, remote.Created{ID: uuid.NewString()})
	}
	return created, nil
}

func (f *Fake) CreateTranscription(_ context.Context, elementID string, req remote.CreateTranscriptionRequest) (*remote.TranscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTranscription"); err != nil {
		return nil, err
	}
	version := req.WorkerVersion
	tr := remote.TranscriptionRecord{ID: uuid.NewString(), Text: req.Text, Confidence: req.Confidence, WorkerVersionID: &version}
	f.Transcriptions[elementID] = append(f.Transcriptions[elementID], tr)
	return &tr, nil
}

func (f *Fake) CreateTranscriptions(_ context.Context, req remote.CreateTranscriptionsRequest) (*remote.CreateTranscriptionsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateTranscriptions"); err != nil {
		return nil, err
	}
	resp := &remote.CreateTranscriptionsResponse{}
	for _, spec := range req.Transcriptions {
		version := req.WorkerVersion
		tr := remote.TranscriptionRecord{ID: uuid.NewString(), Text: spec.Text, Confidence: spec.Confidence, WorkerVersionID: &version}
		f.Transcriptions[spec.ElementID] = append(f.Transcriptions[spec.ElementID], tr)
		resp.Transcriptions = append(resp.Transcriptions, remote.CreatedTranscription{
			ID: tr.ID, ElementID: spec.ElementID, Text: spec.Text, Confidence: spec.Confidence,
		})
	}
	return resp, nil
}

func (f *Fake) CreateElementTranscriptions(_ context.Context, elementID string, req remote.CreateElementTranscriptionsRequest) ([]remote.ElementTranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateElementTranscriptions"); err != nil {
		return nil, err
	}
	if f.ElementTranscriptionResults != nil {
		if len(f.ElementTranscriptionResults) != len(req.Transcriptions) {
			return nil, fmt.Errorf("fake has %d canned results for %d transcriptions",
				len(f.ElementTranscriptionResults), len(req.Transcriptions))
		}
		return append([]remote.ElementTranscriptionResult(nil), f.ElementTranscriptionResults...), nil
	}
	results := make([]remote.ElementTranscriptionResult, 0, len(req.Transcriptions))
	for range req.Transcriptions {
		childID := uuid.NewString()
		version := req.WorkerVersion
		f.Children[elementID] = append(f.Children[elementID], remote.ElementRecord{ID: childID, Type: req.ElementType, WorkerVersionID: &version})
		results = append(results, remote.ElementTranscriptionResult{ID: uuid.NewString(), ElementID: childID, Created: true})
	}
	return results, nil
}

func (f *Fake) UpdateActivity(_ context.Context, workerVersionID string, req remote.ActivityRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateActivity"); err != nil {
		return err
	}
	f.activities = append(f.activities, Activity{WorkerVersionID: workerVersionID, ElementID: req.ElementID, State: req.State})
	return nil
}
