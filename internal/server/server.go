package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agenthands/genefuse/internal/core"
	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/genesets"
	"github.com/agenthands/genefuse/internal/core/ledger"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/agenthands/genefuse/internal/core/stats"
	"github.com/agenthands/genefuse/internal/store"
	"github.com/gin-gonic/gin"
)

type SourceCatalog interface {
	AvailableSources(ctx context.Context, speciesKey string) []genesets.SourceStatus
	ClearCache(ctx context.Context, sourceKey string) (int, error)
}

type RunArchive interface {
	GetRun(ctx context.Context, runID string) (model.PipelineMetadata, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Defaults fill request fields the client leaves out.
type Defaults struct {
	ORA           stats.ORAOptions
	GSEA          stats.GSEAOptions
	FusionSources []string
}

type Server struct {
	Pipeline *core.Pipeline
	Fusion   *core.Fusion
	Batch    *core.Batch
	Sources  SourceCatalog
	Runs     RunArchive
	Metrics  http.Handler
	Defaults Defaults
	Logger   *slog.Logger
}

func NewServer(p *core.Pipeline, f *core.Fusion, b *core.Batch, logger *slog.Logger) *Server {
	return &Server{
		Pipeline: p,
		Fusion:   f,
		Batch:    b,
		Defaults: Defaults{
			ORA:           stats.DefaultORAOptions(),
			GSEA:          stats.DefaultGSEAOptions(),
			FusionSources: core.DefaultFusionSources,
		},
		Logger: common.Component(logger, "server"),
	}
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}

	enrich := r.Group("/enrich")
	enrich.POST("/ora", s.ORA)
	enrich.POST("/gsea", s.GSEA)
	enrich.POST("/fusion", s.RunFusion)
	enrich.POST("/batch", s.RunBatch)

	r.GET("/sources", s.ListSources)
	r.DELETE("/sources/cache", s.ClearSourceCache)
	r.GET("/runs", s.ListRuns)
	r.GET("/runs/:id", s.GetRun)

	graph := r.Group("/graph/runs")
	graph.GET("/:id", s.GraphModules)
	graph.DELETE("/:id", s.DeleteGraphRun)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Info("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)))
	}
}

func statusFor(err error) int {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case apperr.KindInput, apperr.KindStatisticalPrecondition:
		return http.StatusBadRequest
	case apperr.KindSourceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with its kind and code. Failed runs also carry their
// reproducibility record.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"status": "error", "error": err.Error()}
	if kind, ok := apperr.KindOf(err); ok {
		body["kind"] = kind
		body["code"] = apperr.CodeOf(err)
	}
	var re *core.RunError
	if errors.As(err, &re) {
		body["run_id"] = re.Metadata.RunID
		body["metadata"] = re.Metadata
	}
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", slog.String("path", c.FullPath()), slog.String("error", err.Error()))
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status": "error",
		"error":  "invalid request: " + err.Error(),
		"kind":   apperr.KindInput,
		"code":   apperr.CodeInvalidParameter,
	})
}

func (s *Server) ListSources(c *gin.Context) {
	if s.Sources == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gene set store not configured"})
		return
	}
	sp := c.DefaultQuery("species", "human")
	c.JSON(http.StatusOK, gin.H{"species": sp, "sources": s.Sources.AvailableSources(c.Request.Context(), sp)})
}

func (s *Server) ClearSourceCache(c *gin.Context) {
	if s.Sources == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gene set store not configured"})
		return
	}
	n, err := s.Sources.ClearCache(c.Request.Context(), c.Query("source"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) ListRuns(c *gin.Context) {
	if s.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive disabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		limit = n
	}
	runs, err := s.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns a stored record. ?format=yaml renders it as YAML.
func (s *Server) GetRun(c *gin.Context) {
	if s.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive disabled"})
		return
	}
	meta, err := s.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "run_id": c.Param("id")})
		return
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	if c.Query("format") == "yaml" {
		s.export(c, "application/yaml; charset=utf-8", func(w io.Writer) error { return ledger.ExportYAML(w, meta) })
		return
	}
	s.export(c, "application/json; charset=utf-8", func(w io.Writer) error { return ledger.ExportJSON(w, meta) })
}

// export renders into a buffer first so an encoding failure still yields a
// clean 500.
func (s *Server) export(c *gin.Context, contentType string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		s.Logger.Error("export failed", "path", c.FullPath(), "error", err)
		s.writeError(c, apperr.Internal("server.export", err.Error()))
		return
	}
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (s *Server) graph(c *gin.Context) *core.GraphExporter {
	if s.Fusion == nil || s.Fusion.Graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "graph export disabled"})
		return nil
	}
	return s.Fusion.Graph
}

func (s *Server) GraphModules(c *gin.Context) {
	g := s.graph(c)
	if g == nil {
		return
	}
	mods, err := g.RunModules(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(mods) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found in graph", "run_id": c.Param("id")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "modules": mods})
}

func (s *Server) DeleteGraphRun(c *gin.Context) {
	g := s.graph(c)
	if g == nil {
		return
	}
	if err := g.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
