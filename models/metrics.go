package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	layerLabel = "layer"
)

var (
	layerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "layer_count",
		Help: "The number of layers.",
	})

	layerEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "layer_entity_count",
		Help: "The number of entities in a layer.",
	}, []string{layerLabel})

	layerFrameCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "layer_frame_count",
		Help: "The number of rendered frames.",
	}, []string{layerLabel})

	layerVisibleCollections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "layer_visible_collections",
		Help: "The number of collections in the last rendered frame.",
	}, []string{layerLabel})

	layerVisibleEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "layer_visible_entities",
		Help: "The number of entities in the last rendered frame.",
	}, []string{layerLabel})
)

func instrumentLayerCount(count int) {
	layerCount.Set(float64(count))
}

func instrumentLayerEntities(layer string, count int) {
	layerEntityCount.
		With(prometheus.Labels{layerLabel: layer}).
		Set(float64(count))
}

func instrumentFrame(layer string, collections, entities int) {
	labels := prometheus.Labels{layerLabel: layer}

	layerFrameCount.With(labels).Inc()
	layerVisibleCollections.With(labels).Set(float64(collections))
	layerVisibleEntities.With(labels).Set(float64(entities))
}
