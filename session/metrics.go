package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lectern_session_cache_hits",
	Help: "Number of session lookups served from the cache tier",
})

var sessionCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lectern_session_cache_misses",
	Help: "Number of session lookups that fell through to the durable store",
})

var sessionCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lectern_session_cache_errors",
	Help: "Number of cache-tier failures degraded to durable reads",
})

var sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
	Name: "lectern_sessions_swept",
	Help: "Number of expired session rows removed by the periodic sweep",
})
