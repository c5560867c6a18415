package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agenthands/genefuse/internal/core"
	"github.com/agenthands/genefuse/internal/core/stats"
	"github.com/gin-gonic/gin"
)

// ORAParams are the optional ORA overrides shared by several endpoints.
type ORAParams struct {
	PCutoff    *float64 `json:"p_cutoff"`
	MinOverlap *int     `json:"min_overlap"`
	FDRMethod  string   `json:"fdr_method"`
	Background []string `json:"background"`
}

func (p ORAParams) apply(opts stats.ORAOptions) stats.ORAOptions {
	if p.PCutoff != nil {
		opts.PCutoff = *p.PCutoff
	}
	if p.MinOverlap != nil {
		opts.MinOverlap = *p.MinOverlap
	}
	if p.FDRMethod != "" {
		opts.FDRMethod = p.FDRMethod
	}
	if len(p.Background) > 0 {
		opts.Background = p.Background
	}
	return opts
}

type GSEAParams struct {
	MinSize        *int     `json:"min_size"`
	MaxSize        *int     `json:"max_size"`
	PermutationNum *int     `json:"permutation_num"`
	Seed           *uint64  `json:"seed"`
	TopN           *int     `json:"top_n"`
	Weight         *float64 `json:"weight"`
}

func (p GSEAParams) apply(opts stats.GSEAOptions) stats.GSEAOptions {
	if p.MinSize != nil {
		opts.MinSize = *p.MinSize
	}
	if p.MaxSize != nil {
		opts.MaxSize = *p.MaxSize
	}
	if p.PermutationNum != nil {
		opts.PermutationNum = *p.PermutationNum
	}
	if p.Seed != nil {
		opts.Seed = *p.Seed
	}
	if p.TopN != nil {
		opts.TopN = *p.TopN
	}
	if p.Weight != nil {
		opts.Weight = *p.Weight
	}
	return opts
}

type ORARequest struct {
	Genes      []string `json:"genes"`
	Source     string   `json:"source"`
	Species    string   `json:"species"`
	CustomPath string   `json:"custom_gmt"`
	ORAParams
}

func (s *Server) ORA(c *gin.Context) {
	var req ORARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Pipeline.RunORA(c.Request.Context(), core.ORARequest{
		Genes:      req.Genes,
		Source:     req.Source,
		Species:    req.Species,
		CustomPath: req.CustomPath,
		Options:    req.apply(s.Defaults.ORA),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GSEARequest takes either a ranking object or the text of an .rnk file.
type GSEARequest struct {
	Ranking    map[string]float64 `json:"ranking"`
	RNK        string             `json:"rnk"`
	Source     string             `json:"source"`
	Species    string             `json:"species"`
	CustomPath string             `json:"custom_gmt"`
	GSEAParams
}

func (r GSEARequest) ranking() (map[string]float64, []string, error) {
	if r.RNK == "" {
		return r.Ranking, nil, nil
	}
	ranking, warnings, err := stats.ReadRNK(strings.NewReader(r.RNK))
	if err != nil {
		return nil, nil, fmt.Errorf("read rnk: %w", err)
	}
	for g, v := range r.Ranking {
		ranking[g] = v
	}
	return ranking, warnings, nil
}

func (s *Server) GSEA(c *gin.Context) {
	var req GSEARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ranking, parseWarnings, err := req.ranking()
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Pipeline.RunGSEA(c.Request.Context(), core.GSEARequest{
		Ranking:    ranking,
		Source:     req.Source,
		Species:    req.Species,
		CustomPath: req.CustomPath,
		Options:    req.apply(s.Defaults.GSEA),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	res.Warnings = append(parseWarnings, res.Warnings...)
	c.JSON(http.StatusOK, res)
}

type FusionRequest struct {
	Method  string             `json:"method"`
	Genes   []string           `json:"genes"`
	Ranking map[string]float64 `json:"ranking"`
	Sources []string           `json:"sources"`
	Species string             `json:"species"`
	ORA     ORAParams          `json:"ora"`
	GSEA    GSEAParams         `json:"gsea"`
}

func (s *Server) RunFusion(c *gin.Context) {
	if s.Fusion == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fusion disabled"})
		return
	}
	var req FusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = s.Defaults.FusionSources
	}
	res, err := s.Fusion.Run(c.Request.Context(), core.FusionRequest{
		Method:  req.Method,
		Genes:   req.Genes,
		Ranking: req.Ranking,
		Sources: sources,
		Species: req.Species,
		ORA:     req.ORA.apply(s.Defaults.ORA),
		GSEA:    req.GSEA.apply(s.Defaults.GSEA),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type BatchRequest struct {
	Method     string                        `json:"method"`
	GeneLists  map[string][]string           `json:"gene_lists"`
	Rankings   map[string]map[string]float64 `json:"rankings"`
	Source     string                        `json:"source"`
	Species    string                        `json:"species"`
	CustomPath string                        `json:"custom_gmt"`
	ORA        ORAParams                     `json:"ora"`
	GSEA       GSEAParams                    `json:"gsea"`
}

// RunBatch answers JSON by default; ?format=csv returns the flattened table.
func (s *Server) RunBatch(c *gin.Context) {
	if s.Batch == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "batch disabled"})
		return
	}
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Batch.Run(c.Request.Context(), core.BatchRequest{
		Method:     req.Method,
		GeneLists:  req.GeneLists,
		Rankings:   req.Rankings,
		Source:     req.Source,
		Species:    req.Species,
		CustomPath: req.CustomPath,
		ORA:        req.ORA.apply(s.Defaults.ORA),
		GSEA:       req.GSEA.apply(s.Defaults.GSEA),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if c.Query("format") == "csv" {
		s.export(c, "text/csv; charset=utf-8", func(w io.Writer) error { return core.WriteBatchCSV(w, res) })
		return
	}
	s.export(c, "application/json; charset=utf-8", func(w io.Writer) error { return core.WriteBatchJSON(w, res) })
}
