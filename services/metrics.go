package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_bulk_items_total",
		Help: "Items processed by bulk copy, move and delete, by outcome.",
	}, []string{"op", "outcome"})

	uploadTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_upload_tasks_total",
		Help: "Upload tasks that reached a terminal state.",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "receipts_upload_bytes_total",
		Help: "Bytes sent to the object store by upload tasks.",
	})

	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_searches_total",
		Help: "Tag searches by strategy that produced the result.",
	}, []string{"strategy"})

	requestTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_request_transitions_total",
		Help: "Pending request state transitions.",
	}, []string{"type", "status"})

	treeListingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_tree_listings_total",
		Help: "Object store listings issued by the tree cache.",
	}, []string{"result"})
)
