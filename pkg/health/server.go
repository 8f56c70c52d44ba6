package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Registry tracks one BusHealthMonitor per bound port and serves it over
// /healthz (process liveness) and /readyz (per-bus readiness).
type Registry struct {
	startTime time.Time
	version   string

	mu       sync.RWMutex
	monitors map[string]*BusHealthMonitor
}

func NewRegistry(version string) *Registry {
	return &Registry{
		startTime: time.Now(),
		version:   version,
		monitors:  make(map[string]*BusHealthMonitor),
	}
}

// Monitor returns the monitor for port, creating one (online by default,
// 15s grace period) on first use.
func (r *Registry) Monitor(port string) *BusHealthMonitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[port]
	if !ok {
		m = NewBusHealthMonitor(15 * time.Second)
		r.monitors[port] = m
	}
	return m
}

// Remove drops a port's monitor, e.g. once its port is permanently retired.
func (r *Registry) Remove(port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.monitors, port)
}

type busStatus struct {
	Port              string `json:"port"`
	Online            bool   `json:"online"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	InGracePeriod     bool   `json:"in_grace_period"`
}

type readyResponse struct {
	Status  string      `json:"status"` // "ready", "degraded", "not_ready"
	Uptime  string      `json:"uptime"`
	Version string      `json:"version,omitempty"`
	Buses   []busStatus `json:"buses"`
}

// ServeHTTP implements /readyz: 200 while at least one bus is online (or no
// buses have reported yet), 503 once every known bus is offline.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	buses := make([]busStatus, 0, len(r.monitors))
	onlineCount := 0
	for port, m := range r.monitors {
		online := m.IsOnline()
		if online {
			onlineCount++
		}
		buses = append(buses, busStatus{
			Port:              port,
			Online:            online,
			ConsecutiveErrors: m.GetConsecutiveErrors(),
			InGracePeriod:     m.IsInGracePeriod(),
		})
	}
	total := len(r.monitors)
	r.mu.RUnlock()

	status := "ready"
	code := http.StatusOK
	switch {
	case total > 0 && onlineCount == 0:
		status = "not_ready"
		code = http.StatusServiceUnavailable
	case onlineCount < total:
		status = "degraded"
	}

	resp := readyResponse{
		Status:  status,
		Uptime:  time.Since(r.startTime).Round(time.Second).String(),
		Version: r.version,
		Buses:   buses,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// StartServer mounts /healthz (unconditional liveness) and /readyz (this
// Registry) and serves them on port. port == 0 disables the server.
func (r *Registry) StartServer(port int) error {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/readyz", r)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		Handler:           mux,
	}
	return server.ListenAndServe()
}
