package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/httpclient"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
)

const (
	apiPrefix = "/api/v1"

	// maxErrorBody bounds how much of an error response ends up in the error message.
	maxErrorBody = 512

	// maxPages stops runaway pagination on a service that keeps returning next links.
	maxPages = 10000
)

// Config configures the HTTP implementation of Service.
type Config struct {
	URL       string
	Token     string
	Timeout   time.Duration
	RateLimit float64
	// CacheTTL is how long RetrieveElement responses are memoized. Zero
	// disables memoization.
	CacheTTL time.Duration
	// Transport overrides the pooled transport, mainly for tests.
	Transport http.RoundTripper
}

// HTTPService talks to the remote entity service over its REST API.
type HTTPService struct {
	baseURL string
	token   string
	client  *httpclient.Client
	memo    *gocache.Cache
	log     logger.Logger
	metrics *metrics.RemoteMetrics
}

var _ Service = (*HTTPService)(nil)

// NewHTTPService validates cfg and returns a ready service. m may be nil.
func NewHTTPService(cfg Config, log logger.Logger, m *metrics.RemoteMetrics) (*HTTPService, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("remote")

	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid remote service url %q", cfg.URL).
			Component("remote").
			Category(errors.CategoryConfiguration).
			Build()
	}

	client := httpclient.New(&httpclient.Config{
		DefaultTimeout: cfg.Timeout,
		RateLimit:      cfg.RateLimit,
		Transport:      cfg.Transport,
	})

	s := &HTTPService{
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   cfg.Token,
		client:  client,
		log:     log,
		metrics: m,
	}
	if cfg.CacheTTL > 0 {
		s.memo = gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}

	client.SetAfterResponseHook(s.observe)

	log.Info("remote service client initialized",
		logger.String("url", s.baseURL),
		logger.Bool("token_configured", cfg.Token != ""),
		logger.Float64("rate_limit", cfg.RateLimit),
		logger.Duration("cache_ttl", cfg.CacheTTL))

	return s, nil
}

// Close releases idle connections.
func (s *HTTPService) Close() {
	s.client.Close()
}

func (s *HTTPService) observe(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	status := "error"
	if err == nil && resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	s.metrics.RecordRequest(req.Method, operationFromContext(req.Context()), status, elapsed.Seconds())
}

type operationKey struct{}

func withOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func operationFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok {
		return op
	}
	return "unknown"
}

// RetrieveElement fetches one element, served from the memo when fresh.
func (s *HTTPService) RetrieveElement(ctx context.Context, id string) (*ElementRecord, error) {
	key := "element:" + id
	if s.memo != nil {
		if cached, found := s.memo.Get(key); found {
			if el, ok := cached.(ElementRecord); ok {
				s.metrics.RecordMemo(true)
				return &el, nil
			}
		}
		s.metrics.RecordMemo(false)
	}

	var el ElementRecord
	if err := s.do(ctx, "RetrieveElement", http.MethodGet, "/element/"+url.PathEscape(id)+"/", nil, nil, &el); err != nil {
		return nil, err
	}
	if s.memo != nil {
		s.memo.SetDefault(key, el)
	}
	return &el, nil
}

// ListChildren lists the children of parentID.
func (s *HTTPService) ListChildren(ctx context.Context, parentID string, filter ElementFilter) ([]ElementRecord, error) {
	q := url.Values{}
	if filter.Type != "" {
		q.Set("type", filter.Type)
	}
	if filter.Name != "" {
		q.Set("name", filter.Name)
	}
	setVersionQuery(q, filter.WorkerVersion, filter.ManualOnly)
	if filter.Recursive {
		q.Set("recursive", "true")
	}
	return list[ElementRecord](ctx, s, "ListChildren", "/elements/"+url.PathEscape(parentID)+"/children/", q)
}

// ListProcessElements lists the elements attached to a process.
func (s *HTTPService) ListProcessElements(ctx context.Context, processID string) ([]ElementRecord, error) {
	q := url.Values{}
	q.Set("with_image", "true")
	return list[ElementRecord](ctx, s, "ListProcessElements", "/process/"+url.PathEscape(processID)+"/elements/", q)
}

// ListTranscriptions lists the transcriptions of elementID.
func (s *HTTPService) ListTranscriptions(ctx context.Context, elementID string, filter TranscriptionFilter) ([]TranscriptionRecord, error) {
	q := url.Values{}
	setVersionQuery(q, filter.WorkerVersion, filter.ManualOnly)
	if filter.Recursive {
		q.Set("recursive", "true")
	}
	if filter.ElementType != "" {
		q.Set("element_type", filter.ElementType)
	}
	return list[TranscriptionRecord](ctx, s, "ListTranscriptions", "/element/"+url.PathEscape(elementID)+"/transcriptions/", q)
}

func setVersionQuery(q url.Values, version string, manual bool) {
	switch {
	case manual:
		q.Set("worker_version", "False")
	case version != "":
		q.Set("worker_version", version)
	}
}

// CreateElement creates one element.
func (s *HTTPService) CreateElement(ctx context.Context, req CreateElementRequest) (*Created, error) {
	var created Created
	if err := s.do(ctx, "CreateElement", http.MethodPost, "/elements/create/", nil, req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// CreateElements creates children of parentID in one call.
func (s *HTTPService) CreateElements(ctx context.Context, parentID string, req CreateElementsRequest) ([]Created, error) {
	var created []Created
	if err := s.do(ctx, "CreateElements", http.MethodPost, "/element/"+url.PathEscape(parentID)+"/children/bulk/", nil, req, &created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreateTranscription attaches a transcription to elementID.
func (s *HTTPService) CreateTranscription(ctx context.Context, elementID string, req CreateTranscriptionRequest) (*TranscriptionRecord, error) {
	var tr TranscriptionRecord
	if err := s.do(ctx, "CreateTranscription", http.MethodPost, "/element/"+url.PathEscape(elementID)+"/transcription/", nil, req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// CreateTranscriptions creates transcriptions on several elements.
func (s *HTTPService) CreateTranscriptions(ctx context.Context, req CreateTranscriptionsRequest) (*CreateTranscriptionsResponse, error) {
	var resp CreateTranscriptionsResponse
	if err := s.do(ctx, "CreateTranscriptions", http.MethodPost, "/transcription/bulk/", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateElementTranscriptions creates sub-elements with transcriptions.
func (s *HTTPService) CreateElementTranscriptions(ctx context.Context, elementID string, req CreateElementTranscriptionsRequest) ([]ElementTranscriptionResult, error) {
	var results []ElementTranscriptionResult
	if err := s.do(ctx, "CreateElementTranscriptions", http.MethodPost, "/element/"+url.PathEscape(elementID)+"/transcriptions/bulk/", nil, req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateActivity reports the state of one element for a worker version.
func (s *HTTPService) UpdateActivity(ctx context.Context, workerVersionID string, req ActivityRequest) error {
	return s.do(ctx, "UpdateActivity", http.MethodPut, "/workers/versions/"+url.PathEscape(workerVersionID)+"/activity/", nil, req, nil)
}

func list[T any](ctx context.Context, s *HTTPService, op, path string, q url.Values) ([]T, error) {
	var results []T
	next := s.url(path, q)
	for pages := 0; next != ""; pages++ {
		if pages >= maxPages {
			return nil, errors.Newf("pagination of %s exceeded %d pages", op, maxPages).
				Component("remote").
				Category(errors.CategoryRemote).
				Context("operation", op).
				Build()
		}
		var p page[T]
		if err := s.doURL(ctx, op, http.MethodGet, next, nil, &p); err != nil {
			return nil, err
		}
		results = append(results, p.Results...)
		next = ""
		if p.Next != nil {
			next = *p.Next
		}
	}
	return results, nil
}

func (s *HTTPService) url(path string, q url.Values) string {
	u := s.baseURL + apiPrefix + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (s *HTTPService) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	return s.doURL(ctx, op, method, s.url(path, q), body, out)
}

func (s *HTTPService) doURL(ctx context.Context, op, method, target string, body, out any) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Token "+s.token)
	}

	start := time.Now()
	resp, err := s.client.SendJSON(withOperation(ctx, op), method, target, body, header)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil {
			category = errors.CategoryCancellation
		}
		return errors.New(fmt.Errorf("%s %s: %w", method, op, err)).
			Component("remote").
			Category(category).
			Context("operation", op).
			Context("url", target).
			Build()
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.log.Debug("failed to close response body", logger.Error(cerr))
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(fmt.Errorf("read %s response: %w", op, err)).
			Component("remote").
			Category(errors.CategoryNetwork).
			Context("operation", op).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return s.statusError(op, method, target, resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.New(fmt.Errorf("decode %s response: %w", op, err)).
				Component("remote").
				Category(errors.CategoryFileParsing).
				Context("operation", op).
				Context("response_size", len(data)).
				Build()
		}
	}

	s.log.Debug("remote request completed",
		logger.String("operation", op),
		logger.String("method", method),
		logger.Int("status_code", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	return nil
}

func (s *HTTPService) statusError(op, method, target string, status int, body []byte) error {
	preview := strings.TrimSpace(string(body))
	if len(preview) > maxErrorBody {
		preview = preview[:maxErrorBody] + "..."
	}

	var category errors.ErrorCategory
	switch {
	case status == http.StatusNotFound:
		category = errors.CategoryNotFound
	case status >= http.StatusInternalServerError:
		category = errors.CategoryRemoteTransient
	default:
		category = errors.CategoryRemote
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		s.log.Error("remote service rejected credentials",
			logger.String("operation", op),
			logger.Int("status_code", status))
	} else {
		s.log.Warn("remote service returned an error",
			logger.String("operation", op),
			logger.Int("status_code", status),
			logger.String("body", preview))
	}

	return errors.Newf("%s %s failed with status %d: %s", method, op, status, preview).
		Component("remote").
		Category(category).
		Context("operation", op).
		Context("status_code", status).
		Context("url", target).
		Build()
}
