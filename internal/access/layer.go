// Package access is the entity access layer a worker talks to. Reads go to
// the local cache or the remote service depending on how the layer was
// built; writes always go to the remote service first and are then mirrored
// into the cache.
package access

import (
	"context"

	"github.com/tphakala/docworker/internal/cache"
	"github.com/tphakala/docworker/internal/errors"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/observability/metrics"
	"github.com/tphakala/docworker/internal/remote"
	"github.com/tphakala/docworker/internal/report"
)

// Config holds the dependencies of a Layer.
type Config struct {
	Remote   remote.Service
	Store    *cache.Store // required when UseCache is set
	Reporter *report.Reporter
	// WorkerVersionID is empty in read-only mode.
	WorkerVersionID string
	ProcessID       string
	UseCache        bool
	Log             logger.Logger
	Metrics         *metrics.CacheMetrics
}

// Layer composes the element and transcription operations over one set of
// dependencies.
type Layer struct {
	*Elements
	*Transcriptions

	deps *deps
}

// deps is shared by the components of a Layer.
type deps struct {
	remote        remote.Service
	store         *cache.Store
	entities      EntityStore
	reporter      *report.Reporter
	workerVersion string
	processID     string
	useCache      bool
	log           logger.Logger
	metrics       *metrics.CacheMetrics
}

// New validates cfg and selects the read backend once.
func New(cfg Config) (*Layer, error) {
	if cfg.Remote == nil {
		return nil, errors.Newf("access layer requires a remote service").
			Component("access").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.UseCache && cfg.Store == nil {
		return nil, errors.Newf("access layer configured to use the cache without a store").
			Component("access").
			Category(errors.CategoryConfiguration).
			Build()
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("access")
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = report.New("docworker", log)
	}

	d := &deps{
		remote:        cfg.Remote,
		reporter:      reporter,
		workerVersion: cfg.WorkerVersionID,
		processID:     cfg.ProcessID,
		useCache:      cfg.UseCache,
		log:           log,
		metrics:       cfg.Metrics,
	}

	remoteStore := NewRemoteEntityStore(cfg.Remote)
	if cfg.UseCache {
		d.store = cfg.Store
		d.entities = NewCachedEntityStore(cfg.Store, remoteStore, log)
	} else {
		d.entities = remoteStore
	}

	if d.readOnly() {
		log.Warn("no worker version configured, running in read-only mode")
	}

	return &Layer{
		Elements:       &Elements{deps: d},
		Transcriptions: &Transcriptions{deps: d},
		deps:           d,
	}, nil
}

// Entities returns the read backend selected at construction.
func (l *Layer) Entities() EntityStore {
	return l.deps.entities
}

// Reporter returns the report entries are recorded in.
func (l *Layer) Reporter() *report.Reporter {
	return l.deps.reporter
}

// ReadOnly reports whether writes are skipped.
func (l *Layer) ReadOnly() bool {
	return l.deps.readOnly()
}

// WorkerVersionID returns the configured worker version, empty when read-only.
func (l *Layer) WorkerVersionID() string {
	return l.deps.workerVersion
}

// ProcessID returns the configured process id.
func (l *Layer) ProcessID() string {
	return l.deps.processID
}

// Remote returns the remote service writes go to.
func (l *Layer) Remote() remote.Service {
	return l.deps.remote
}

// ResolveElement returns ref unchanged when it is already resolved and
// otherwise looks the element up through the read backend.
func (l *Layer) ResolveElement(ctx context.Context, ref ElementRef) (ElementRef, error) {
	if ref.Resolved() {
		return ref, nil
	}
	return l.deps.entities.Element(ctx, ref.ID)
}

func (d *deps) readOnly() bool {
	return d.workerVersion == ""
}

// skipWrite logs and returns true when op must not run in read-only mode.
func (d *deps) skipWrite(op string) bool {
	if !d.readOnly() {
		return false
	}
	d.log.Warn("cannot write in read-only mode, skipping",
		logger.String("operation", op))
	return true
}

// mirrorFailed records that ids of kind exist remotely but could not be
// written to the cache.
func (d *deps) mirrorFailed(kind report.Kind, ids []string, err error) {
	d.log.Warn("cache mirror write failed",
		logger.String("kind", string(kind)),
		logger.Int("count", len(ids)),
		logger.Bool("conflict", cache.IsConflict(err)),
		logger.Error(err))
	d.reporter.MarkCacheIncomplete(kind, ids...)
	d.metrics.RecordMirrorWrite(string(kind), metrics.StatusError, len(ids))
}

func (d *deps) mirrorDone(kind report.Kind, count int) {
	d.metrics.RecordMirrorWrite(string(kind), metrics.StatusSuccess, count)
}

// mirrorImage makes sure img is present in the cache before rows that
// reference it are inserted.
func (d *deps) mirrorImage(ctx context.Context, img *cache.Image) error {
	if img == nil {
		return nil
	}
	if _, err := d.store.FirstOrCreateImage(ctx, *img); err != nil {
		return err
	}
	return nil
}

func (d *deps) versionPtr() *string {
	v := d.workerVersion
	return &v
}
