package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineMetrics instruments the transaction manager and the recovery
// engine. It follows the same optional-registerer shape as
// dreamsxin-wal's newWALMetrics: a nil/no-op registerer is fine, callers
// who want the counters exported pass their own prometheus.Registerer.
type engineMetrics struct {
	recordsAppended       prometheus.Counter
	bytesAppended         prometheus.Counter
	recoveries            prometheus.Counter
	recordsReplayed       prometheus.Counter
	recordsDropped        prometheus.Counter
	transactionsCommitted prometheus.Counter
	transactionsAborted   prometheus.Counter
	beginConflicts        prometheus.Counter
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	return &engineMetrics{
		recordsAppended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_log_records_appended_total",
			Help: "rvm_log_records_appended_total counts post-image records appended to the log file on commit.",
		}),
		bytesAppended: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_log_bytes_appended_total",
			Help: "rvm_log_bytes_appended_total counts payload bytes appended to the log file on commit.",
		}),
		recoveries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_recoveries_total",
			Help: "rvm_recoveries_total counts how many times the recovery/truncation engine has run.",
		}),
		recordsReplayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_log_records_replayed_total",
			Help: "rvm_log_records_replayed_total counts log records successfully patched into a segment file during recovery.",
		}),
		recordsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_log_records_dropped_total",
			Help: "rvm_log_records_dropped_total counts log records discarded during recovery whose segment file no longer exists, plus one per log file discarded for a missing or invalid header. A truncated trailing record is not counted.",
		}),
		transactionsCommitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_transactions_committed_total",
			Help: "rvm_transactions_committed_total counts completed CommitTrans calls.",
		}),
		transactionsAborted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_transactions_aborted_total",
			Help: "rvm_transactions_aborted_total counts completed AbortTrans calls.",
		}),
		beginConflicts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "rvm_begin_trans_conflicts_total",
			Help: "rvm_begin_trans_conflicts_total counts BeginTrans calls that returned -1 because a segment was already locked or unmapped.",
		}),
	}
}
