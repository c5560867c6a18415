// Package resolver holds HTTP clients for the remote services the enrichment
// core depends on: identifier resolution and gene-set library download.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/idmap"
)

// MyGeneBatchSize is the largest id list sent in one query request.
const MyGeneBatchSize = 1000

type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// MyGene resolves identifiers through the mygene.info batch query endpoint.
type MyGene struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ idmap.Resolver = (*MyGene)(nil)

func NewMyGene(baseURL string, opts ...Option) *MyGene {
	o := buildOptions(opts)
	return &MyGene{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: o.httpClient,
		logger:     common.Component(o.logger, "mygene"),
	}
}

type myGeneHit struct {
	Query      string          `json:"query"`
	Symbol     string          `json:"symbol"`
	EntrezGene json.RawMessage `json:"entrezgene"`
	NotFound   bool            `json:"notfound"`
}

// Resolve queries ids in batches. The first hit per query wins.
func (m *MyGene) Resolve(ctx context.Context, ids []string, scope string, taxon int) (map[string]idmap.Resolution, error) {
	out := make(map[string]idmap.Resolution, len(ids))
	for start := 0; start < len(ids); start += MyGeneBatchSize {
		end := min(start+MyGeneBatchSize, len(ids))
		hits, err := m.query(ctx, ids[start:end], scope, taxon)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.NotFound || h.Query == "" {
				continue
			}
			if _, seen := out[h.Query]; seen {
				continue
			}
			out[h.Query] = idmap.Resolution{Symbol: h.Symbol, EntrezID: entrezString(h.EntrezGene)}
		}
	}
	m.logger.Debug("resolved identifiers", slog.Int("requested", len(ids)), slog.Int("resolved", len(out)))
	return out, nil
}

func (m *MyGene) query(ctx context.Context, ids []string, scope string, taxon int) ([]myGeneHit, error) {
	form := neturl.Values{}
	form.Set("q", strings.Join(ids, ","))
	form.Set("scopes", scope)
	form.Set("fields", "symbol,entrezgene")
	form.Set("species", strconv.Itoa(taxon))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/query", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mygene query: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mygene query: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apiError("mygene query", resp.Status, body)
	}
	var hits []myGeneHit
	if err := json.Unmarshal(body, &hits); err != nil {
		return nil, fmt.Errorf("mygene query: decode: %w", err)
	}
	return hits, nil
}

// entrezString accepts the numeric and string forms the service returns.
func entrezString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func apiError(op, status string, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return fmt.Errorf("%s: %s", op, status)
	}
	return fmt.Errorf("%s: %s: %s", op, status, msg)
}
