package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nci/vegindex/metrics"
	proc "github.com/nci/vegindex/processor"
	"github.com/nci/vegindex/provider"
	"github.com/nci/vegindex/utils"
)

const maxRequestBody = 1 << 20

// server holds everything a request needs. Providers and cache are
// swapped as a unit when the config is reloaded.
type server struct {
	Info          *log.Logger
	Error         *log.Logger
	MetricsLogger metrics.Logger
	Limiter       *proc.ConcLimiter
	Verbose       bool

	mu        sync.RWMutex
	conf      *utils.Config
	providers []provider.SceneProvider
	cache     utils.Cache
}

func (s *server) state() (*utils.Config, []provider.SceneProvider, utils.Cache) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf, s.providers, s.cache
}

// setState makes conf, providers and cache active. A cache that is being
// replaced is closed.
func (s *server) setState(conf *utils.Config, providers []provider.SceneProvider, cache utils.Cache) {
	s.mu.Lock()
	old := s.cache
	s.conf, s.providers, s.cache = conf, providers, cache
	s.mu.Unlock()

	if old != nil && old != cache {
		s.closeCache(old)
	}
}

// configure builds the providers and cache for conf and makes them active.
// The running cache is kept while the backend stays the same.
func (s *server) configure(conf *utils.Config, db *sql.DB) error {
	providers, err := provider.Build(conf, db)
	if err != nil {
		return err
	}

	prev, _, cache := s.state()
	if prev == nil || prev.ServiceConfig.CacheBackend != conf.ServiceConfig.CacheBackend {
		if cache, err = newCache(conf); err != nil {
			return err
		}
	}
	s.setState(conf, providers, cache)
	return nil
}

func (s *server) closeCache(cache utils.Cache) {
	if c, ok := cache.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.Error.Printf("cache close error: %v\n", err)
		}
	}
}

// Close flushes the metrics logger and releases the cache. It is called
// once the HTTP server has stopped taking requests.
func (s *server) Close() {
	if l, ok := s.MetricsLogger.(interface{ Close() }); ok {
		l.Close()
	}
	_, _, cache := s.state()
	if cache != nil {
		s.closeCache(cache)
	}
}

// newCache picks the result cache named by the config. Memcache and redis
// addresses come from the environment.
func newCache(conf *utils.Config) (utils.Cache, error) {
	switch conf.ServiceConfig.CacheBackend {
	case "none":
		return nil, nil
	case "memory":
		return utils.NewMemoryCache(), nil
	case "memcache":
		addr := os.Getenv("MEMCACHE_ADDR")
		if addr == "" {
			addr = "127.0.0.1:11211"
		}
		return utils.NewMemcacheCache(addr, "vegindex"), nil
	case "redis":
		addr := os.Getenv("REDIS_ADDR")
		if addr == "" {
			addr = "127.0.0.1:6379"
		}
		rc := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		return utils.NewRedisCache(rc, "vegindex"), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", conf.ServiceConfig.CacheBackend)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func (s *server) newCollector(r *http.Request) *metrics.MetricsCollector {
	mc := metrics.NewMetricsCollector(s.MetricsLogger)
	mc.Info.ReqTime = time.Now().UTC().Format(utils.ISOFormat)

	reqURL, e := url.QueryUnescape(r.URL.String())
	if e == nil {
		mc.Info.URL.RawURL = reqURL
	} else {
		mc.Info.URL.RawURL = r.URL.String()
	}
	mc.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	mc.Info.HTTPStatus = http.StatusOK
	return mc
}

func (s *server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")

	t0 := time.Now()
	mc := s.newCollector(r)
	defer mc.Log()
	defer func() { mc.Info.ReqDuration = time.Since(t0) }()

	fail := func(status int, payload *proc.ErrorPayload) {
		mc.Info.HTTPStatus = status
		mc.Info.ErrorCode = payload.Error
		writeJSON(w, status, payload)
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		fail(http.StatusMethodNotAllowed, &proc.ErrorPayload{Error: "method_not_allowed", Message: "use POST", Providers: []proc.ProviderFailure{}})
		return
	}

	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		fail(http.StatusRequestEntityTooLarge, &proc.ErrorPayload{Error: "request_too_large", Message: err.Error(), Providers: []proc.ProviderFailure{}})
		return
	}
	var req proc.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		fail(http.StatusBadRequest, &proc.ErrorPayload{Error: "invalid_request_body", Message: fmt.Sprintf("malformed request body: %v", err), Providers: []proc.ProviderFailure{}})
		return
	}

	if s.Limiter != nil {
		if err := s.Limiter.IncreaseContext(r.Context()); err != nil {
			fail(http.StatusServiceUnavailable, &proc.ErrorPayload{Error: "server_busy", Message: fmt.Sprintf("no ingest slot available: %v", err), Providers: []proc.ProviderFailure{}})
			return
		}
		defer s.Limiter.Decrease()
	}

	conf, providers, cache := s.state()
	pipeline, err := proc.InitIngestPipeline(r.Context(), conf, providers, cache, mc)
	if err != nil {
		s.Error.Printf("pipeline init error: %v\n", err)
		fail(http.StatusInternalServerError, proc.NewErrorPayload(err))
		return
	}

	result, err := pipeline.Ingest(&req)
	if err != nil {
		var ve *proc.ValidationError
		var ae *proc.AllProvidersFailedError
		switch {
		case errors.As(err, &ve):
			fail(http.StatusBadRequest, proc.NewErrorPayload(err))
		case errors.As(err, &ae):
			s.Error.Printf("%v\n", err)
			fail(http.StatusBadGateway, proc.NewErrorPayload(err))
		case errors.Is(err, context.DeadlineExceeded):
			fail(http.StatusGatewayTimeout, proc.NewErrorPayload(err))
		default:
			if r.Context().Err() != nil {
				s.Error.Printf("Context cancelled with message: %v\n", r.Context().Err())
			}
			fail(http.StatusInternalServerError, proc.NewErrorPayload(err))
		}
		return
	}

	if s.Verbose {
		s.Info.Printf("ingest: %s scene %s in %v\n", result.Provider, result.SceneRef.SceneID, time.Since(t0))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", http.MethodDelete)
		http.Error(w, "use DELETE", http.StatusMethodNotAllowed)
		return
	}
	_, _, cache := s.state()
	if cache == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := cache.Clear(r.Context()); err != nil {
		s.Error.Printf("cache clear error: %v\n", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	conf, providers, _ := s.state()
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	running := 0
	if s.Limiter != nil {
		running = s.Limiter.Running()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"providers": names,
		"cache":     conf.ServiceConfig.CacheBackend,
		"running":   running,
	})
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.ingestHandler)
	mux.HandleFunc("/cache", s.cacheHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}
