package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"MarginCore/internal/event"
	"MarginCore/internal/observability"
	"MarginCore/internal/query"
)

// Server exposes the query API over HTTP/JSON plus a gRPC endpoint
// carrying health and reflection. Trade and price ingestion happens over
// the message bus, not here; the HTTP surface is read-only.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	qs            *query.QueryService
	defaultAsset  string
}

// ServerDeps holds the collaborators the API surface reads from.
type ServerDeps struct {
	QueryService  *query.QueryService
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics

	// DefaultAsset is used by margin queries when the request does not
	// name one.
	DefaultAsset string
}

// NewServer creates the gRPC server and prepares the HTTP surface.
func NewServer(grpcAddr, httpAddr string, deps *ServerDeps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		qs:            deps.QueryService,
		defaultAsset:  deps.DefaultAsset,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking). Query endpoints are
// served from the in-memory engine state; /metrics, /healthz, /readyz
// ride alongside.
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/positions", s.handleListPositions},
		{"GET", "/v1/positions/{trader}", s.handleGetPosition},
		{"GET", "/v1/positions/{trader}/margin", s.handleGetMarginInfo},
		{"GET", "/v1/positions/{trader}/events", s.handleEventHistory},
		{"GET", "/v1/skew", s.handleGetSkew},
		{"GET", "/v1/prices/{asset}", s.handleGetPrice},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", promhttp.Handler())
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- handlers ---

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	done := s.observe("get_position")
	trader, err := uuid.Parse(pathParams["trader"])
	if err != nil {
		done("error")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid trader id: %v", err))
		return
	}
	done("ok")
	writeJSON(w, http.StatusOK, s.qs.GetPosition(trader))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	done := s.observe("list_positions")
	positions := s.qs.ListPositions()
	done("ok")
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) handleGetSkew(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	done := s.observe("get_skew")
	resp := s.qs.GetSkew()
	done("ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	done := s.observe("get_price")
	resp, err := s.qs.GetPrice(r.Context(), pathParams["asset"])
	if err != nil {
		done("error")
		writeError(w, statusFromError(err), err.Error())
		return
	}
	done("ok")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMarginInfo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	done := s.observe("get_margin_info")
	trader, err := uuid.Parse(pathParams["trader"])
	if err != nil {
		done("error")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid trader id: %v", err))
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = s.defaultAsset
	}
	info, err := s.qs.GetMarginInfo(r.Context(), trader, asset)
	if err != nil {
		done("error")
		writeError(w, statusFromError(err), err.Error())
		return
	}
	done("ok")
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	done := s.observe("event_history")
	trader, err := uuid.Parse(pathParams["trader"])
	if err != nil {
		done("error")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid trader id: %v", err))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			done("error")
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %v", err))
			return
		}
	}
	var before *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			done("error")
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid before_sequence: %v", perr))
			return
		}
		before = &seq
	}

	entries, err := s.qs.GetEventHistory(r.Context(), trader, limit, before)
	if err != nil {
		done("error")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	done("ok")
	writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

// --- helpers ---

// observe records a query metric when the returned func is called with
// the final status.
func (s *Server) observe(endpoint string) func(status string) {
	start := time.Now()
	return func(status string) {
		if s.metrics == nil {
			return
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func statusFromError(err error) int {
	kind, ok := event.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case event.RejectInvalidPriceFeed:
		return http.StatusNotFound
	case event.RejectStalePrice:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
