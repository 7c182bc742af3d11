// Package api implements the node's HTTP control-plane surface: health and
// cluster introspection, the gossip inbound endpoint (pkg/membership), and
// submit_query against the process-wide scheduler handle (pkg/scheduler,
// spec.md §4.10).
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumadb/swarmdb/pkg/batch"
	"github.com/lumadb/swarmdb/pkg/cluster"
	"github.com/lumadb/swarmdb/pkg/membership"
	"github.com/lumadb/swarmdb/pkg/scheduler"
	"go.uber.org/zap"
)

// Server is the HTTP API server.
type Server struct {
	node     *cluster.Node
	dir      *membership.Directory
	gossiper *membership.Gossiper
	sched    *scheduler.Handle
	logger   *zap.Logger
	engine   *gin.Engine
}

// NewServer creates a new API server bound to node's control-plane
// consensus, dir's gossip namespace, and sched's process-wide query
// scheduler.
func NewServer(node *cluster.Node, dir *membership.Directory, gossiper *membership.Gossiper, sched *scheduler.Handle, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		node:     node,
		dir:      dir,
		gossiper: gossiper,
		sched:    sched,
		logger:   logger,
		engine:   engine,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/cluster", s.handleClusterInfo)

	api := s.engine.Group("/api/v1")
	{
		api.POST("/query", s.handleQuery)
		api.POST("/colocation", s.handleColocation)
	}

	// Inbound gossip push (pkg/membership.Gossiper.HandlePush).
	s.engine.POST("/internal/gossip", gin.WrapF(s.gossiper.HandlePush))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"is_leader": s.node.IsLeader(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleClusterInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"is_leader":   s.node.IsLeader(),
		"leader_addr": s.node.LeaderAddr(),
		"self_id":     s.dir.SelfID(),
		"peers":       s.dir.KnownEndpoints(),
	})
}

// QueryRequest is the submit_query body (spec §4.10).
type QueryRequest struct {
	SQL string `json:"sql"`
}

// QueryResponse carries a flattened view of the schema and rows, since JSON
// has no columnar representation worth preserving over the wire for this
// human-facing endpoint; pkg/rpc is the columnar transport between nodes.
type QueryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Count   int      `json:"count"`
}

func (s *Server) handleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	schema, batches, err := s.sched.SubmitQuery(c.Request.Context(), req.SQL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, toQueryResponse(schema, batches))
}

func (s *Server) handleColocation(c *gin.Context) {
	var req struct {
		Tables []string `json:"tables"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	endpoint, ok := s.sched.CheckColocation(req.Tables)
	c.JSON(http.StatusOK, gin.H{"colocated": ok, "endpoint": endpoint})
}

func toQueryResponse(schema batch.Schema, batches []*batch.Batch) QueryResponse {
	names := make([]string, len(schema.Fields))
	for i, f := range schema.Fields {
		names[i] = f.Name
	}

	resp := QueryResponse{Columns: names}
	for _, b := range batches {
		for r := 0; r < b.Rows(); r++ {
			row := make([]any, len(names))
			for col := range names {
				if col < len(b.Columns) {
					row[col] = b.Columns[col][r]
				}
			}
			resp.Rows = append(resp.Rows, row)
		}
	}
	resp.Count = len(resp.Rows)
	return resp
}
