package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	articlesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newswire_articles_ingested_total",
		Help: "Articles inserted into the store.",
	})
	articlesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newswire_articles_duplicate_total",
		Help: "Articles skipped as duplicates during ingestion.",
	})
	articlesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newswire_articles_failed_total",
		Help: "Articles dropped by per-item ingestion errors.",
	})
	ingestRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newswire_ingest_run_duration_seconds",
		Help:    "Wall time of full ingestion runs.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	questionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newswire_questions_total",
		Help: "Questions received over websocket sessions, by outcome.",
	}, []string{"outcome"})
	chunksStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newswire_answer_chunks_total",
		Help: "Answer chunks streamed to clients.",
	})
)
