package remote

// ActivityState is the processing state of one element reported to the
// orchestrator.
type ActivityState string

const (
	ActivityQueued    ActivityState = "queued"
	ActivityStarted   ActivityState = "started"
	ActivityProcessed ActivityState = "processed"
	ActivityError     ActivityState = "error"
)

// ImageRecord is an image as returned by the service.
type ImageRecord struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// Zone locates an element on its image.
type Zone struct {
	Image   ImageRecord `json:"image"`
	Polygon [][]float64 `json:"polygon"`
}

// ElementRecord is an element as returned by the service.
type ElementRecord struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Name            string  `json:"name"`
	Zone            *Zone   `json:"zone,omitempty"`
	WorkerVersionID *string `json:"worker_version_id,omitempty"`
}

// TranscriptionRecord is a transcription as returned by the service.
type TranscriptionRecord struct {
	ID              string       `json:"id"`
	Text            string       `json:"text"`
	Confidence      float64      `json:"confidence"`
	WorkerVersionID *string      `json:"worker_version_id,omitempty"`
	Element         *ElementLink `json:"element,omitempty"`
}

// ElementLink is the short element reference embedded in listings.
type ElementLink struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Created is the body returned by create endpoints that only echo the id.
type Created struct {
	ID string `json:"id"`
}

// CreateElementRequest creates one element on an image.
type CreateElementRequest struct {
	Type          string      `json:"type"`
	Name          string      `json:"name"`
	Image         string      `json:"image"`
	Parent        string      `json:"parent"`
	Polygon       [][]float64 `json:"polygon"`
	WorkerVersion string      `json:"worker_version"`
}

// ElementSpec is one element of a bulk create.
type ElementSpec struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Polygon [][]float64 `json:"polygon"`
}

// CreateElementsRequest creates many children of one parent.
type CreateElementsRequest struct {
	WorkerVersion string        `json:"worker_version"`
	Elements      []ElementSpec `json:"elements"`
}

// CreateTranscriptionRequest attaches one transcription to an element.
type CreateTranscriptionRequest struct {
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	WorkerVersion string  `json:"worker_version"`
}

// TranscriptionSpec is one transcription of a bulk create across elements.
type TranscriptionSpec struct {
	ElementID  string  `json:"element_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// CreateTranscriptionsRequest creates transcriptions on several elements.
type CreateTranscriptionsRequest struct {
	WorkerVersion  string              `json:"worker_version"`
	Transcriptions []TranscriptionSpec `json:"transcriptions"`
}

// CreatedTranscription is one row of a bulk transcription create response.
type CreatedTranscription struct {
	ID         string  `json:"id"`
	ElementID  string  `json:"element_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// CreateTranscriptionsResponse is the bulk transcription create response.
type CreateTranscriptionsResponse struct {
	Transcriptions []CreatedTranscription `json:"transcriptions"`
}

// ElementTranscriptionSpec is a polygon and its text, creating a
// sub-element and a transcription in one call.
type ElementTranscriptionSpec struct {
	Polygon    [][]float64 `json:"polygon"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// CreateElementTranscriptionsRequest creates sub-elements of ElementType
// with their transcriptions under one parent.
type CreateElementTranscriptionsRequest struct {
	WorkerVersion  string                     `json:"worker_version"`
	ElementType    string                     `json:"element_type"`
	Transcriptions []ElementTranscriptionSpec `json:"transcriptions"`
	ReturnElements bool                       `json:"return_elements"`
}

// ElementTranscriptionResult reports the transcription id and the element
// it landed on. Created is false when an element with the same polygon
// already existed and was reused.
type ElementTranscriptionResult struct {
	ID        string `json:"id"`
	ElementID string `json:"element_id"`
	Created   bool   `json:"created"`
}

// ActivityRequest is the body of an activity update.
type ActivityRequest struct {
	ElementID string        `json:"element_id"`
	ProcessID string        `json:"process_id,omitempty"`
	State     ActivityState `json:"state"`
}

// ElementFilter narrows ListChildren.
type ElementFilter struct {
	Type          string
	Name          string
	WorkerVersion string
	// ManualOnly selects elements without a worker version.
	ManualOnly bool
	Recursive  bool
}

// TranscriptionFilter narrows ListTranscriptions.
type TranscriptionFilter struct {
	WorkerVersion string
	ManualOnly    bool
	Recursive     bool
	ElementType   string
}

type page[T any] struct {
	Count   int     `json:"count"`
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}
