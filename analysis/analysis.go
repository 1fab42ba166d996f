package analysis

import (
	"context"
	"errors"
	"math"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/storage"
)

var nan = math.NaN()

// Kind selects the analysis run over a dataset.
type Kind string

const Anomaly = Kind("anomaly")
const Clustering = Kind("clustering")
const Text = Kind("text")
const Similarity = Kind("similarity")

func (k Kind) Valid() bool {
	switch k {
	case Anomaly, Clustering, Text, Similarity:
		return true
	}
	return false
}

type Options struct {
	// ZThreshold is the absolute z-score from which a value is an anomaly.
	ZThreshold float64
	Clusters   int
	Iterations int
	TopTerms   int
	// JSONPath selects the record array in JSON content.
	JSONPath string
}

func DefaultOptions() Options {
	return Options{ZThreshold: 3, Clusters: 3, Iterations: 50, TopTerms: 20}
}

type ColumnSummary struct {
	Name    string
	Count   int
	Missing int
	Mean    float64
	StdDev  float64
	Median  float64
	Min     float64
	Max     float64
}

type Outlier struct {
	Row    int
	Column string
	Value  float64
	ZScore float64
}

type Cluster struct {
	Centroid map[string]float64
	Size     int
}

type TermCount struct {
	Term  string
	Count int
}

type Correlation struct {
	A, B        string
	Coefficient float64
}

// Report is the result of one analysis. Only the fields of its kind are set.
type Report struct {
	Kind         Kind
	Rows         int
	Columns      int
	Completeness float64
	Summary      []ColumnSummary `json:",omitempty"`
	Outliers     []Outlier       `json:",omitempty"`
	Clusters     []Cluster       `json:",omitempty"`
	Assignments  []int           `json:",omitempty"`
	Tokens       int             `json:",omitempty"`
	Terms        []TermCount     `json:",omitempty"`
	Correlations []Correlation   `json:",omitempty"`
}

// Analyzer runs an analysis over stored dataset content.
type Analyzer interface {
	Analyze(ctx context.Context, locator string, kind Kind) (*Report, error)
}

// Engine analyzes content read from a blob store.
type Engine struct {
	blobs storage.CAS
	opts  Options
}

func New(blobs storage.CAS, opts Options) *Engine {
	def := DefaultOptions()
	if opts.ZThreshold <= 0 {
		opts.ZThreshold = def.ZThreshold
	}
	if opts.Clusters <= 0 {
		opts.Clusters = def.Clusters
	}
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.TopTerms <= 0 {
		opts.TopTerms = def.TopTerms
	}
	return &Engine{blobs: blobs, opts: opts}
}

func (e *Engine) Analyze(ctx context.Context, locator string, kind Kind) (*Report, error) {
	if !kind.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown analysis kind %q", kind)
	}
	data, err := e.blobs.Get(ctx, locator)
	switch {
	case storage.IsNotFound(err):
		return nil, domain.Errorf(domain.ErrNotFound, "content %s", locator)
	case storage.IsTransient(err):
		return nil, domain.Errorf(domain.ErrUnavailable, "reading %s: %v", locator, err)
	case err != nil:
		return nil, err
	}
	return Run(kind, data, e.opts)
}

// Run analyzes data. The report depends on data and opts only.
func Run(kind Kind, data []byte, opts Options) (*Report, error) {
	if kind == Text {
		return text(data, opts), nil
	}
	if !kind.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown analysis kind %q", kind)
	}
	t, err := ParseTable(data, opts.JSONPath)
	if errors.Is(err, errNotTabular) {
		return nil, domain.Errorf(domain.ErrValidation, "%s analysis needs tabular content", kind)
	}
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "%v", err)
	}

	r := &Report{Kind: kind, Rows: len(t.Rows), Columns: len(t.Columns), Completeness: 1}
	if cells := len(t.Rows) * len(t.Columns); cells > 0 {
		r.Completeness = 1 - float64(t.Missing())/float64(cells)
	}
	numeric := t.Numeric()
	r.Summary = summarize(t.Columns, numeric)

	switch kind {
	case Anomaly:
		r.Outliers = outliers(t.Columns, numeric, opts.ZThreshold)
	case Clustering:
		r.Clusters, r.Assignments = kmeans(t.Columns, numeric, opts.Clusters, opts.Iterations)
	case Similarity:
		r.Correlations = correlations(t.Columns, numeric)
	}
	return r, nil
}
