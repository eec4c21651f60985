package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/txmux/internal/observability"
	"github.com/danmuck/txmux/internal/peer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Admin is the HTTP control plane for one txmuxd node.
type Admin struct {
	nodeID  string
	addr    string
	started time.Time
	router  *gin.Engine

	mu    sync.RWMutex
	peers map[string]*peer.Peer
}

// PeerStatus pairs a registry name with the engine snapshot behind it.
type PeerStatus struct {
	Name string `json:"name"`
	peer.Snapshot
}

// NewAdmin builds the admin plane for nodeID listening on addr. CORS is
// limited to the given origins; an empty list admits the local dashboard
// dev server only.
func NewAdmin(nodeID, addr string, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(nodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		nodeID:  nodeID,
		addr:    addr,
		started: time.Now(),
		router:  r,
		peers:   make(map[string]*peer.Peer),
	}
	a.registerRoutes()
	return a
}

// Attach registers a live peer engine under name, replacing any previous
// entry with the same name.
func (a *Admin) Attach(name string, p *peer.Peer) {
	a.mu.Lock()
	a.peers[name] = p
	a.mu.Unlock()

	snap := p.Snapshot()
	observability.SetPeerGauges(name, snap.LabelsInUse, snap.InboundDepth)
	log.Info().
		Str("node", a.nodeID).
		Str("peer", name).
		Msg("peer attached")
}

// Detach removes a peer engine and clears its gauges.
func (a *Admin) Detach(name string) {
	a.mu.Lock()
	delete(a.peers, name)
	a.mu.Unlock()

	observability.DropPeerGauges(name)
	log.Info().
		Str("node", a.nodeID).
		Str("peer", name).
		Msg("peer detached")
}

// PeerCount reports how many engines are currently attached.
func (a *Admin) PeerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}

// Statuses snapshots every attached peer sorted by name, refreshing the
// per-peer gauges as it goes.
func (a *Admin) Statuses() []PeerStatus {
	a.mu.RLock()
	engines := make(map[string]*peer.Peer, len(a.peers))
	for name, p := range a.peers {
		engines[name] = p
	}
	a.mu.RUnlock()

	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]PeerStatus, 0, len(names))
	for _, name := range names {
		snap := engines[name].Snapshot()
		observability.SetPeerGauges(name, snap.LabelsInUse, snap.InboundDepth)
		statuses = append(statuses, PeerStatus{Name: name, Snapshot: snap})
	}
	return statuses
}

// HTTPRouter exposes the underlying engine for tests and embedding.
func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

// Serve runs the admin listener until ctx is cancelled, then drains
// in-flight requests before returning.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: a.addr, Handler: a.router}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	log.Info().
		Str("node", a.nodeID).
		Str("addr", a.addr).
		Msg("admin plane listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
