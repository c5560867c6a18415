package resolver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/genesets"
)

// Enrichr downloads gene-set libraries in the text export format, which is
// GMT with an optional ",weight" suffix on each gene.
type Enrichr struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ genesets.Provider = (*Enrichr)(nil)

func NewEnrichr(baseURL string, opts ...Option) *Enrichr {
	o := buildOptions(opts)
	return &Enrichr{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: o.httpClient,
		logger:     common.Component(o.logger, "enrichr"),
	}
}

func (e *Enrichr) Fetch(ctx context.Context, library, organism string) (map[string][]string, error) {
	if library == "" {
		return nil, fmt.Errorf("enrichr fetch: empty library name")
	}
	q := neturl.Values{}
	q.Set("mode", "text")
	q.Set("libraryName", library)
	endpoint := e.baseURL + "/geneSetLibrary?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enrichr fetch %s: %w", library, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, apiError("enrichr fetch "+library, resp.Status, body)
	}

	sets, warnings, err := genesets.ParseGMT(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("enrichr fetch %s: %w", library, err)
	}
	if len(warnings) > 0 {
		e.logger.Debug("skipped library lines", slog.String("library", library), slog.Int("count", len(warnings)))
	}
	e.logger.Info("fetched gene set library",
		slog.String("library", library),
		slog.String("organism", organism),
		slog.Int("sets", len(sets)))
	return genesets.GeneMap(sets), nil
}
