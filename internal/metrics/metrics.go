// Package metrics implements the status/metrics HTTP surface of
// spec.md §1: a small gorilla/mux server that any future GUI (or
// curl) can poll for live progress, plus the Prometheus
// instrumentation that the teacher's own observability stack exposes
// alongside it.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/derrors"
)

// StatusProvider is the read side of a chunking manager, narrowed to
// what the status endpoint needs so this package never imports
// internal/chunking directly (avoiding an import cycle risk and
// keeping the HTTP surface decoupled from the orchestrator, per
// spec.md §9's explicit-injection design note).
type StatusProvider interface {
	GetFileStatus(fileUUID, ownerUUID string) (FileStatus, error)
}

// FileStatus mirrors chunking.Status field-for-field; the chunking
// manager's GetFileStatus result is adapted into this shape by the
// caller that wires the two packages together (see cmd/decentralisd).
type FileStatus struct {
	FileUUID        string
	Required        int
	AvailableLocal  int
	AvailableRemote int
	Reachable       int
	Reconstructable bool
	Degraded        bool
}

// LocalStatsProvider is the read side of a chunkdb handle used by the
// /metrics gauges.
type LocalStatsProvider interface {
	GetLocalStats(selfUUID string) (chunkdb.LocalStats, error)
}

// PeerCounter reports the number of peers currently known, used for
// the peers_known gauge.
type PeerCounter func() int

// Metrics holds every Prometheus collector this daemon exposes.
type Metrics struct {
	gatherer           prometheus.Gatherer
	filesTracked       prometheus.Gauge
	localChunks        prometheus.Gauge
	foreignChunks      prometheus.Gauge
	peersKnown         prometheus.Gauge
	chunkOperations    *prometheus.CounterVec
	chunkOperationErrs *prometheus.CounterVec
	replicationTasks   *prometheus.CounterVec
	goroutines         prometheus.Gauge
	memoryAllocBytes   prometheus.Gauge
}

// New registers a fresh set of collectors against the default
// Prometheus registry, in the teacher pack's promauto.With factory
// idiom (kenchrcum-s3-encryption-gateway/internal/metrics/metrics.go).
func New() *Metrics {
	return newWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry is the testing seam: a private registry avoids
// "duplicate metrics collector registration" panics when multiple
// *Metrics are constructed within one test binary.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	return newWithRegistry(reg, reg)
}

func newWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		filesTracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_files_tracked",
			Help: "Number of files this node has local metadata for.",
		}),
		localChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_local_chunks",
			Help: "Number of chunks owned by this node and stored locally.",
		}),
		foreignChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_foreign_chunks",
			Help: "Number of chunks this node stores on behalf of other peers.",
		}),
		peersKnown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_peers_known",
			Help: "Number of peers currently in this node's peer set.",
		}),
		chunkOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decentralis_chunk_operations_total",
			Help: "Total chunking operations performed, by kind.",
		}, []string{"operation"}),
		chunkOperationErrs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decentralis_chunk_operation_errors_total",
			Help: "Total chunking operation failures, by kind.",
		}, []string{"operation"}),
		replicationTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decentralis_replication_tasks_total",
			Help: "Total replication tasks processed, by outcome.",
		}, []string{"outcome"}),
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_goroutines",
			Help: "Number of goroutines.",
		}),
		memoryAllocBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decentralis_memory_alloc_bytes",
			Help: "Bytes allocated and not yet freed.",
		}),
	}
}

// RecordChunkOperation increments the named chunking-operation counter.
func (m *Metrics) RecordChunkOperation(operation string) {
	m.chunkOperations.WithLabelValues(operation).Inc()
}

// RecordChunkOperationError increments the named chunking-operation
// error counter.
func (m *Metrics) RecordChunkOperationError(operation string) {
	m.chunkOperationErrs.WithLabelValues(operation).Inc()
}

// RecordReplicationTask increments the replication-task outcome
// counter ("done" or "failed").
func (m *Metrics) RecordReplicationTask(outcome string) {
	m.replicationTasks.WithLabelValues(outcome).Inc()
}

// refreshGauges pulls the current local/foreign chunk counts and peer
// count, called on every /metrics scrape so the gauges never go stale
// between sweeps.
func (m *Metrics) refreshGauges(selfUUID string, stats LocalStatsProvider, peers PeerCounter) {
	if stats != nil {
		if s, err := stats.GetLocalStats(selfUUID); err == nil {
			m.filesTracked.Set(float64(s.FileCount))
			m.localChunks.Set(float64(s.LocalChunkCount))
			m.foreignChunks.Set(float64(s.ForeignChunkCount))
		}
	}
	if peers != nil {
		m.peersKnown.Set(float64(peers()))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(ms.Alloc))
}

// Server is the gorilla/mux-based status/metrics HTTP surface of
// spec.md §1's "status/metrics HTTP surface" REDESIGN note.
type Server struct {
	addr     string
	router   *mux.Router
	srv      *http.Server
	listener net.Listener
	metrics  *Metrics
	status   StatusProvider
	stats    LocalStatsProvider
	peers    PeerCounter
	selfUUID string
	log      *logrus.Entry
}

// NewServer wires up the router but does not start listening; call
// Listen then Serve to do that (the same split rpcpeer.Server uses, so
// tests binding "127.0.0.1:0" can learn the actual address first).
func NewServer(addr string, m *Metrics, status StatusProvider, stats LocalStatsProvider, peers PeerCounter, selfUUID string, log *logrus.Entry) *Server {
	s := &Server{
		addr:     addr,
		router:   mux.NewRouter(),
		metrics:  m,
		status:   status,
		stats:    stats,
		peers:    peers,
		selfUUID: selfUUID,
		log:      log,
	}
	s.router.HandleFunc("/status/{owner}/{file_uuid}", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.srv = &http.Server{Handler: s.router}
	return s
}

// Listen binds addr and returns the resolved address, without
// accepting connections yet.
func (s *Server) Listen() (net.Addr, error) {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %v", derrors.ErrConfiguration, s.addr, err)
	}
	s.listener = l
	return l.Addr(), nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, fileUUID := vars["owner"], vars["file_uuid"]

	status, err := s.status.GetFileStatus(fileUUID, owner)
	if err != nil {
		if s.log != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"owner": owner, "file_uuid": fileUUID}).Warn("status lookup failed")
		}
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil && s.log != nil {
		s.log.WithError(err).Warn("failed to encode status response")
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.refreshGauges(s.selfUUID, s.stats, s.peers)
	promhttp.HandlerFor(s.metrics.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Serve calls Listen itself if that has not already happened, then
// blocks serving HTTP on the bound listener until Close is called.
func (s *Server) Serve() error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	if s.log != nil {
		s.log.WithField("addr", s.listener.Addr().String()).Info("status/metrics server listening")
	}
	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP server down, bounded by a short grace period.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
