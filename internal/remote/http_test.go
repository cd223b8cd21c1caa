package remote

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/errors"
)

const testBaseURL = "https://entities.test"

// newMockedService returns a service whose requests go to a fresh mock transport.
func newMockedService(t *testing.T, opts ...func(*Config)) (*HTTPService, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	cfg := Config{
		URL:       testBaseURL + "/",
		Token:     "s3cret",
		Timeout:   5 * time.Second,
		Transport: transport,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	svc, err := NewHTTPService(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, transport
}

func TestNewHTTPServiceInvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "/relative/only"} {
		_, err := NewHTTPService(Config{URL: raw}, nil, nil)
		require.Error(t, err, raw)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), raw)
	}
}

func TestRetrieveElement(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/element/e1/",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Token s3cret", req.Header.Get("Authorization"))
			assert.Equal(t, "docworker", req.Header.Get("User-Agent"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"id":   "e1",
				"type": "page",
				"name": "1",
				"zone": map[string]any{
					"image":   map[string]any{"id": "img", "width": 100, "height": 50, "url": "https://iiif.test/img"},
					"polygon": [][]float64{{0, 0}, {100, 0}, {100, 50}, {0, 50}},
				},
			})
		})

	el, err := svc.RetrieveElement(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "page", el.Type)
	require.NotNil(t, el.Zone)
	assert.Equal(t, 100, el.Zone.Image.Width)
	assert.Len(t, el.Zone.Polygon, 4)
	assert.Nil(t, el.WorkerVersionID)
}

func TestRetrieveElementMemoized(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t, func(c *Config) { c.CacheTTL = time.Minute })

	transport.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/element/e1/",
		httpmock.NewStringResponder(http.StatusOK, `{"id":"e1","type":"page","name":"1"}`))

	for range 3 {
		el, err := svc.RetrieveElement(t.Context(), "e1")
		require.NoError(t, err)
		assert.Equal(t, "e1", el.ID)
	}
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestStatusErrorCategories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		category errors.ErrorCategory
	}{
		{"not_found", http.StatusNotFound, errors.CategoryNotFound},
		{"bad_request", http.StatusBadRequest, errors.CategoryRemote},
		{"forbidden", http.StatusForbidden, errors.CategoryRemote},
		{"internal_server_error", http.StatusInternalServerError, errors.CategoryRemoteTransient},
		{"bad_gateway", http.StatusBadGateway, errors.CategoryRemoteTransient},
		{"service_unavailable", http.StatusServiceUnavailable, errors.CategoryRemoteTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, transport := newMockedService(t)
			transport.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/element/e1/",
				httpmock.NewStringResponder(tt.status, `{"detail":"nope"}`))

			_, err := svc.RetrieveElement(t.Context(), "e1")
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, tt.category))
			assert.Equal(t, tt.status, errors.StatusCode(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestInvalidJSONResponse(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/element/e1/",
		httpmock.NewStringResponder(http.StatusOK, `<html>`))

	_, err := svc.RetrieveElement(t.Context(), "e1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)
	transport.RegisterResponder(http.MethodGet, testBaseURL+"/api/v1/element/e1/",
		httpmock.NewErrorResponder(errors.NewStd("connection reset")))

	_, err := svc.RetrieveElement(t.Context(), "e1")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, errors.IsTransient(err))
}

func TestListChildrenFollowsPagination(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodGet, `=~^https://entities\.test/api/v1/elements/p1/children/`,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "text_line", q.Get("type"))
			assert.Equal(t, "False", q.Get("worker_version"))
			assert.Equal(t, "true", q.Get("recursive"))

			if q.Get("page") == "2" {
				return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
					"count": 3, "next": nil,
					"results": []map[string]any{{"id": "c3", "type": "text_line"}},
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"count": 3,
				"next":  testBaseURL + "/api/v1/elements/p1/children/?type=text_line&worker_version=False&recursive=true&page=2",
				"results": []map[string]any{
					{"id": "c1", "type": "text_line"},
					{"id": "c2", "type": "text_line"},
				},
			})
		})

	children, err := svc.ListChildren(t.Context(), "p1", ElementFilter{Type: "text_line", ManualOnly: true, Recursive: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, 2, transport.GetTotalCallCount())
}

func TestListTranscriptionsVersionFilter(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodGet, `=~^https://entities\.test/api/v1/element/e1/transcriptions/`,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "v1", req.URL.Query().Get("worker_version"))
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"count": 1, "next": nil,
				"results": []map[string]any{{"id": "t1", "text": "hello", "confidence": 0.5, "worker_version_id": "v1"}},
			})
		})

	trs, err := svc.ListTranscriptions(t.Context(), "e1", TranscriptionFilter{WorkerVersion: "v1"})
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, "hello", trs[0].Text)
	require.NotNil(t, trs[0].WorkerVersionID)
	assert.Equal(t, "v1", *trs[0].WorkerVersionID)
}

func TestCreateElementsSendsBody(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/element/p1/children/bulk/",
		func(req *http.Request) (*http.Response, error) {
			var body CreateElementsRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			assert.Equal(t, "v1", body.WorkerVersion)
			require.Len(t, body.Elements, 2)
			assert.Equal(t, "word", body.Elements[1].Type)
			return httpmock.NewJsonResponse(http.StatusCreated, []Created{{ID: "n1"}, {ID: "n2"}})
		})

	created, err := svc.CreateElements(t.Context(), "p1", CreateElementsRequest{
		WorkerVersion: "v1",
		Elements: []ElementSpec{
			{Name: "a", Type: "word", Polygon: [][]float64{{0, 0}, {1, 0}, {1, 1}}},
			{Name: "b", Type: "word", Polygon: [][]float64{{0, 0}, {2, 0}, {2, 2}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []Created{{ID: "n1"}, {ID: "n2"}}, created)
}

func TestCreateElementTranscriptions(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodPost, testBaseURL+"/api/v1/element/p1/transcriptions/bulk/",
		httpmock.NewStringResponder(http.StatusCreated,
			`[{"id":"t1","element_id":"e1","created":true},{"id":"t2","element_id":"e0","created":false}]`))

	results, err := svc.CreateElementTranscriptions(t.Context(), "p1", CreateElementTranscriptionsRequest{
		WorkerVersion: "v1",
		ElementType:   "line",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.False(t, results[1].Created)
}

func TestUpdateActivity(t *testing.T) {
	t.Parallel()
	svc, transport := newMockedService(t)

	transport.RegisterResponder(http.MethodPut, testBaseURL+"/api/v1/workers/versions/v1/activity/",
		func(req *http.Request) (*http.Response, error) {
			var body ActivityRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			assert.Equal(t, ActivityRequest{ElementID: "e1", ProcessID: "p", State: ActivityStarted}, body)
			return httpmock.NewStringResponse(http.StatusOK, `{"element_id":"e1","state":"started"}`), nil
		})

	err := svc.UpdateActivity(t.Context(), "v1", ActivityRequest{ElementID: "e1", ProcessID: "p", State: ActivityStarted})
	require.NoError(t, err)
}
