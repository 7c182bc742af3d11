package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// pushPayload is what one node ships to a peer on each gossip round —
// its own namespace snapshot, identified by node id/name/endpoint.
type pushPayload struct {
	NodeID   string `json:"node_id"`
	NodeName string `json:"node_name"`
	Endpoint string `json:"endpoint"`
	Pairs    []KV   `json:"pairs"`
}

// Gossiper periodically pushes this node's namespace to every known peer
// and serves incoming pushes, approximating the eventually-consistent
// propagation spec.md assumes without reimplementing a SWIM-style failure
// detector (spec §9: "in high-churn environments, topology changes may be
// invisible to an in-flight query" is an accepted limitation here too).
type Gossiper struct {
	dir      *Directory
	logger   *zap.Logger
	client   *http.Client
	interval time.Duration
}

func NewGossiper(dir *Directory, logger *zap.Logger, interval time.Duration) *Gossiper {
	return &Gossiper{
		dir:      dir,
		logger:   logger,
		client:   &http.Client{Timeout: 3 * time.Second},
		interval: interval,
	}
}

// Run pushes this node's snapshot to every known peer on a timer until ctx
// is cancelled. Failures are logged and do not propagate — gossip failures
// are background-task failures per spec §7 ("Background tasks... log and
// continue; they never surface to query callers").
func (g *Gossiper) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pushToAll(ctx)
		}
	}
}

func (g *Gossiper) pushToAll(ctx context.Context) {
	payload := pushPayload{
		NodeID:   g.dir.SelfID(),
		NodeName: g.dir.SelfName(),
		Endpoint: g.dir.SelfEndpoint(),
		Pairs:    g.dir.GetSelfConfig(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		g.logger.Warn("gossip: failed to marshal push payload", zap.Error(err))
		return
	}

	for _, endpoint := range g.dir.KnownEndpoints() {
		if endpoint == g.dir.SelfEndpoint() {
			continue
		}
		url := fmt.Sprintf("http://%s/internal/gossip", endpoint)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := g.client.Do(req)
		if err != nil {
			g.logger.Debug("gossip: push failed", zap.String("endpoint", endpoint), zap.Error(err))
			continue
		}
		resp.Body.Close()
	}
}

// HandlePush is the inbound side: merge a peer's snapshot into the local
// directory. Wired as an HTTP handler by the node's control-plane server.
func (g *Gossiper) HandlePush(w http.ResponseWriter, r *http.Request) {
	var payload pushPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.dir.MergeRemote(payload.NodeID, payload.NodeName, payload.Endpoint, payload.Pairs)
	w.WriteHeader(http.StatusNoContent)
}

// Seed registers a peer's endpoint before any snapshot has been received
// from it, so the push loop knows to contact it.
func (g *Gossiper) Seed(nodeID, nodeName, endpoint string) {
	g.dir.MergeRemote(nodeID, nodeName, endpoint, nil)
}
