package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/storage"
	"github.com/datanova-ai/datanova-exchange/store"
)

// TimeNow is the registry's clock.
var TimeNow = func() time.Time {
	return time.Now()
}

const (
	indexDigest     = "digest"
	indexOwner      = "owner"
	indexVisibility = "visibility"
)

const updateRetries = 8

type Config struct {
	AllowDuplicates bool
	Digest          cidutil.Algorithm
	AuditWorkers    int
	AuditInterval   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Digest:        cidutil.SHA256,
		AuditWorkers:  4,
		AuditInterval: time.Hour,
	}
}

// Content is what a provider registers: either the bytes themselves or the
// locator of bytes already present in storage.
type Content struct {
	Bytes   []byte
	Locator string
}

// Options are the provider supplied settings of a new dataset.
type Options struct {
	Visibility domain.Visibility
	Exclusive  *bool
	Price      uint64
	Metadata   domain.Metadata
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	Owner         string
	DataType      domain.DataType
	Author        string
	Keyword       string
	IncludeHidden bool
}

// Registry maps dataset IDs to content digests and storage locators.
type Registry struct {
	cfg      Config
	datasets *store.Collection
	blobs    storage.CAS
	bus      events.Publisher
	locks    *store.KeyLocker
	log      *logrus.Entry
}

func datasetIndexer(v interface{}) []store.IndexEntry {
	d := v.(*domain.Dataset)
	return []store.IndexEntry{
		{Index: indexDigest, Key: d.Digest},
		{Index: indexOwner, Key: d.OwnerID},
		{Index: indexVisibility, Key: string(d.Visibility)},
	}
}

// New creates a registry keeping its records in s and dataset bytes in blobs.
// Events are published on bus, which may be nil.
func New(cfg Config, s *store.Store, blobs storage.CAS, bus events.Publisher) *Registry {
	if cfg.Digest == "" {
		cfg.Digest = cidutil.SHA256
	}
	if cfg.AuditWorkers <= 0 {
		cfg.AuditWorkers = 1
	}
	return &Registry{
		cfg:      cfg,
		datasets: s.Collection("datasets", datasetIndexer),
		blobs:    blobs,
		bus:      bus,
		locks:    store.NewKeyLocker(),
		log:      logger.Component("registry"),
	}
}

// Register computes the digest of the content, stores it and records a new dataset.
func (r *Registry) Register(ctx context.Context, ownerID string, content Content, opts Options) (*domain.Dataset, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.Errorf(domain.ErrValidation, "owner is required")
	}
	if !opts.Metadata.DataType.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown data type %q", opts.Metadata.DataType)
	}
	visibility := opts.Visibility
	if visibility == "" {
		visibility = domain.Gated
	}
	if visibility != domain.Public && visibility != domain.Gated {
		return nil, domain.Errorf(domain.ErrValidation, "datasets are registered PUBLIC or GATED, not %s", visibility)
	}

	data, err := r.read(ctx, content)
	if err != nil {
		return nil, err
	}
	digest, err := cidutil.SumString(data, r.cfg.Digest)
	if err != nil {
		return nil, domain.Errorf(domain.ErrDigestComputation, "%v", err)
	}

	unlock := r.locks.Lock(digest)
	defer unlock()

	if !r.cfg.AllowDuplicates {
		ids, err := r.datasets.Lookup(ctx, indexDigest, digest)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return nil, domain.Errorf(domain.ErrDuplicateDataset, "digest %s is registered as %s", digest, ids[0])
		}
	}

	locator := content.Locator
	if content.Bytes != nil {
		locator, err = r.blobs.Put(ctx, data)
		if err != nil {
			if storage.IsTransient(err) {
				return nil, domain.Errorf(domain.ErrUnavailable, "storing content: %v", err)
			}
			return nil, domain.Errorf(domain.ErrDigestComputation, "storing content: %v", err)
		}
	}

	metadata := opts.Metadata
	metadata.SizeBytes = uint64(len(data))
	dataset := &domain.Dataset{
		ID:           uuid.New(),
		Digest:       digest,
		Locator:      locator,
		OwnerID:      ownerID,
		RegisteredAt: TimeNow(),
		Visibility:   visibility,
		Exclusive:    opts.Exclusive,
		Price:        opts.Price,
		Metadata:     metadata,
	}
	if err := r.datasets.Create(ctx, dataset.ID.String(), dataset); err != nil {
		return nil, err
	}

	metrics.Measures.DatasetsRegistered.Inc()
	r.log.WithField("dataset", dataset.ID).WithField("digest", digest).Info("dataset registered")
	events.Publish(ctx, r.bus, events.DatasetRegistered, events.DatasetData{
		ID:      dataset.ID,
		OwnerID: ownerID,
		Digest:  digest,
		Locator: locator,
	}, domain.DatasetAggregateType, dataset.ID, 1)
	return dataset, nil
}

func (r *Registry) read(ctx context.Context, content Content) ([]byte, error) {
	if content.Bytes != nil {
		if len(content.Bytes) == 0 {
			return nil, domain.Errorf(domain.ErrDigestComputation, "content is empty")
		}
		return content.Bytes, nil
	}
	if content.Locator == "" {
		return nil, domain.Errorf(domain.ErrDigestComputation, "neither content nor locator given")
	}
	data, err := r.blobs.Get(ctx, content.Locator)
	if err != nil {
		if storage.IsTransient(err) {
			return nil, domain.Errorf(domain.ErrUnavailable, "reading %s: %v", content.Locator, err)
		}
		return nil, domain.Errorf(domain.ErrDigestComputation, "reading %s: %v", content.Locator, err)
	}
	if len(data) == 0 {
		return nil, domain.Errorf(domain.ErrDigestComputation, "content at %s is empty", content.Locator)
	}
	return data, nil
}

// Get returns the dataset record, whatever its visibility.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Dataset, error) {
	d, _, err := r.load(ctx, id)
	return d, err
}

func (r *Registry) load(ctx context.Context, id uuid.UUID) (*domain.Dataset, uint64, error) {
	var d domain.Dataset
	version, err := r.datasets.Get(ctx, id.String(), &d)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, domain.Errorf(domain.ErrNotFound, "dataset %s", id)
	}
	if err != nil {
		return nil, 0, err
	}
	return &d, version, nil
}

// Locate returns the storage locator of a visible dataset.
func (r *Registry) Locate(ctx context.Context, id uuid.UUID) (string, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d.Visibility.Hidden() {
		return "", domain.Errorf(domain.ErrNotFound, "dataset %s is %s", id, strings.ToLower(string(d.Visibility)))
	}
	return d.Locator, nil
}

// Verify refetches the dataset content and checks it against the registered
// digest. A mismatch or missing content quarantines the dataset.
func (r *Registry) Verify(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if d.Visibility == domain.Quarantined {
		return false, nil
	}

	data, err := r.blobs.Get(ctx, d.Locator)
	switch {
	case storage.IsNotFound(err):
		return false, r.quarantine(ctx, d, "", "content missing from storage")
	case err != nil:
		return false, domain.Errorf(domain.ErrUnavailable, "fetching %s: %v", d.Locator, err)
	}

	actual, err := cidutil.Recompute(d.Digest, data)
	if err != nil {
		return false, domain.Errorf(domain.ErrDigestComputation, "%v", err)
	}
	if actual != d.Digest {
		return false, r.quarantine(ctx, d, actual, "digest mismatch")
	}
	return true, nil
}

func (r *Registry) quarantine(ctx context.Context, d *domain.Dataset, actual, reason string) error {
	tamper := events.TamperData{
		ID:             d.ID,
		ExpectedDigest: d.Digest,
		ActualDigest:   actual,
		Reason:         reason,
		DetectedAt:     TimeNow(),
	}
	r.log.WithFields(logrus.Fields{
		"dataset":  d.ID,
		"expected": d.Digest,
		"actual":   actual,
	}).Warnf("tamper detected: %s", reason)

	version, changed, err := r.mutate(ctx, d.ID, func(d *domain.Dataset) bool {
		if d.Visibility.Hidden() {
			return false
		}
		d.Visibility = domain.Quarantined
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		metrics.Measures.DatasetsQuarantined.Inc()
		events.Publish(ctx, r.bus, events.DatasetQuarantined, tamper, domain.DatasetAggregateType, d.ID, int(version))
	}
	return nil
}

// Revoke withdraws a dataset from circulation. Its record and digest are kept.
func (r *Registry) Revoke(ctx context.Context, id uuid.UUID) error {
	var revoked domain.Dataset
	version, changed, err := r.mutate(ctx, id, func(d *domain.Dataset) bool {
		revoked = *d
		if d.Visibility == domain.Revoked {
			return false
		}
		d.Visibility = domain.Revoked
		return true
	})
	if err != nil || !changed {
		return err
	}
	r.log.WithField("dataset", id).Info("dataset revoked")
	events.Publish(ctx, r.bus, events.DatasetRevoked, events.DatasetData{
		ID:      id,
		OwnerID: revoked.OwnerID,
		Digest:  revoked.Digest,
		Locator: revoked.Locator,
	}, domain.DatasetAggregateType, id, int(version))
	return nil
}

// mutate applies fn to the stored dataset with an optimistic version check,
// reloading on conflict. fn returns false when nothing needs to change.
func (r *Registry) mutate(ctx context.Context, id uuid.UUID, fn func(d *domain.Dataset) bool) (uint64, bool, error) {
	for i := 0; i < updateRetries; i++ {
		d, version, err := r.load(ctx, id)
		if err != nil {
			return 0, false, err
		}
		if !fn(d) {
			return version, false, nil
		}
		version, err = r.datasets.Update(ctx, id.String(), version, d)
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return 0, false, err
		}
		return version, true, nil
	}
	return 0, false, domain.Errorf(domain.ErrConflict, "dataset %s kept changing", id)
}

// List returns the datasets matching f ordered by registration time.
func (r *Registry) List(ctx context.Context, f Filter) ([]*domain.Dataset, error) {
	var out []*domain.Dataset
	add := func(d *domain.Dataset) {
		if f.matches(d) {
			out = append(out, d)
		}
	}

	if f.Owner != "" {
		ids, err := r.datasets.Lookup(ctx, indexOwner, f.Owner)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			var d domain.Dataset
			if _, err := r.datasets.Get(ctx, id, &d); err != nil {
				return nil, err
			}
			add(&d)
		}
	} else {
		err := r.datasets.ForEach(ctx, func(id string, version uint64, decode func(out interface{}) error) error {
			var d domain.Dataset
			if err := decode(&d); err != nil {
				return err
			}
			add(&d)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

func (f Filter) matches(d *domain.Dataset) bool {
	if !f.IncludeHidden && d.Visibility.Hidden() {
		return false
	}
	if f.Owner != "" && d.OwnerID != f.Owner {
		return false
	}
	if f.DataType != "" && d.Metadata.DataType != f.DataType {
		return false
	}
	if f.Author != "" && !containsFold(d.Metadata.Authors, f.Author) {
		return false
	}
	if f.Keyword != "" && !containsFold(d.Metadata.Keywords, f.Keyword) {
		return false
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
