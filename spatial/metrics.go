package spatial

import (
	"github.com/aukilabs/geoquad/geo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	indexLabel = "index"
	treeLabel  = "tree"
)

var (
	indexEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_entity_count",
		Help: "The number of entities owned by an index.",
	}, []string{indexLabel})

	indexNodeSplits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "index_node_splits",
		Help: "The number of quad node splits.",
	}, []string{indexLabel, treeLabel})

	indexMaterializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "index_materializations",
		Help: "The number of deferred entity buffers turned into collections.",
	}, []string{indexLabel, treeLabel})

	schedulerBacklog = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_scheduler_backlog",
		Help: "The number of nodes waiting for a deferred build.",
	}, []string{indexLabel})

	schedulerInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_scheduler_in_flight",
		Help: "The number of deferred builds scheduled and not finished.",
	}, []string{indexLabel})

	schedulerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "index_scheduler_skips",
		Help: "The number of queued nodes dropped because they were not visible anymore.",
	}, []string{indexLabel})
)

func instrumentEntityCount(index string, count int) {
	indexEntityCount.
		With(prometheus.Labels{indexLabel: index}).
		Set(float64(count))
}

func instrumentSplit(index string, tree geo.Tree) {
	indexNodeSplits.
		With(prometheus.Labels{indexLabel: index, treeLabel: tree.String()}).
		Inc()
}

func instrumentMaterialize(index string, tree geo.Tree) {
	indexMaterializations.
		With(prometheus.Labels{indexLabel: index, treeLabel: tree.String()}).
		Inc()
}

func instrumentSchedulerState(s *Scheduler) {
	schedulerBacklog.
		With(prometheus.Labels{indexLabel: s.name}).
		Set(float64(len(s.backlog)))

	schedulerInFlight.
		With(prometheus.Labels{indexLabel: s.name}).
		Set(float64(s.inFlight))
}

func instrumentSchedulerSkip(index string) {
	schedulerSkips.
		With(prometheus.Labels{indexLabel: index}).
		Inc()
}
