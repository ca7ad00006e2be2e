package catalog

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/store"
)

// Metrics holds Prometheus metrics for catalog writes. A nil *Metrics
// records nothing.
type Metrics struct {
	writes     *prometheus.CounterVec // Writes by entity, operation and outcome
	rejections *prometheus.CounterVec // Rejected writes by error kind
	cascade    prometheus.Histogram   // Rows removed per delete
}

// NewMetrics creates catalog metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "writes_total",
			Help:      "Total catalog write operations by outcome",
		}, []string{"entity", "op", "outcome"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "rejections_total",
			Help:      "Total writes rejected by integrity checks",
		}, []string{"kind"}),

		cascade: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "catalog",
			Name:      "cascade_rows",
			Help:      "Rows removed by a single delete",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.writes, m.rejections, m.cascade} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

var kindLabels = map[error]string{
	errs.ErrSchemaConflict:         "schema_conflict",
	errs.ErrUnknownEntity:          "unknown_entity",
	errs.ErrCyclicDependency:       "cyclic_dependency",
	errs.ErrUnknownVocabulary:      "unknown_vocabulary",
	errs.ErrVocabularyClosed:       "vocabulary_closed",
	errs.ErrMissingAttribute:       "missing_attribute",
	errs.ErrDomainViolation:        "domain_violation",
	errs.ErrInvalidVocabularyValue: "invalid_vocabulary_value",
	errs.ErrDanglingReference:      "dangling_reference",
	errs.ErrDuplicateKey:           "duplicate_key",
	errs.ErrOrphanPart:             "orphan_part",
	errs.ErrPartialCommitAborted:   "partial_commit_aborted",
	errs.ErrReferentialBlock:       "referential_block",
	errs.ErrNotFound:               "not_found",
	errs.ErrImmutableKey:           "immutable_key",
	errs.ErrOwnedPart:              "owned_part",
}

// outcome labels err: "ok", "conflict" for exhausted retries, the error
// kind for integrity failures and "error" for anything else.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	}
	if l, ok := kindLabels[rootKind(err)]; ok {
		return l
	}
	return "error"
}

// rootKind returns the innermost taxonomy kind of err, so a rejected part
// of a batch commit is counted by its cause.
func rootKind(err error) error {
	kind := errs.KindOf(err)
	for {
		var e *errs.Error
		if !errors.As(err, &e) || e.Err == nil {
			return kind
		}
		err = e.Err
		if k := errs.KindOf(err); k != nil {
			kind = k
		}
	}
}

func (m *Metrics) wrote(entity, op string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(entity, op, outcome(err)).Inc()
	m.rejected(err)
}

func (m *Metrics) rejected(err error) {
	if m == nil || err == nil {
		return
	}
	if l, ok := kindLabels[rootKind(err)]; ok {
		m.rejections.WithLabelValues(l).Inc()
	}
}

func (m *Metrics) cascaded(rows int) {
	if m == nil {
		return
	}
	m.cascade.Observe(float64(rows))
}
