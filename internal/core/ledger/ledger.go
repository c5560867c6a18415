// Package ledger accumulates the reproducibility record of one enrichment run.
// A Ledger belongs to a single run and is frozen exactly once.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agenthands/genefuse/internal/core/apperr"
	"github.com/agenthands/genefuse/internal/core/common"
	"github.com/agenthands/genefuse/internal/core/model"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrFrozen = errors.New("ledger is frozen")

type Ledger struct {
	mu     sync.Mutex
	meta   model.PipelineMetadata
	frozen bool
	logger *slog.Logger
	now    func() time.Time
}

func New(softwareVersion string, logger *slog.Logger) *Ledger {
	return newLedger(softwareVersion, logger, time.Now)
}

func newLedger(softwareVersion string, logger *slog.Logger, now func() time.Time) *Ledger {
	return &Ledger{
		meta: model.PipelineMetadata{
			RunID:           uuid.NewString(),
			Timestamp:       now().UTC(),
			SoftwareVersion: softwareVersion,
			GoVersion:       runtime.Version(),
			Dependencies:    buildDependencies(),
			Parameters:      map[string]any{},
			Warnings:        []string{},
			Stages:          []model.Stage{},
		},
		logger: common.Component(logger, "ledger"),
		now:    now,
	}
}

// buildDependencies lists the module versions compiled into the binary.
func buildDependencies() map[string]string {
	deps := map[string]string{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}
	for _, d := range info.Deps {
		version := d.Version
		if d.Replace != nil {
			version = d.Replace.Version
		}
		deps[d.Path] = version
	}
	return deps
}

func (l *Ledger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.meta.RunID
}

func (l *Ledger) update(fn func(m *model.PipelineMetadata)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return ErrFrozen
	}
	fn(&l.meta)
	return nil
}

func (l *Ledger) SetMethod(method string) error {
	return l.update(func(m *model.PipelineMetadata) { m.Method = method })
}

// SetGeneSetInfo records the collection identity. The hash is computed from
// sets, so it matches the hash the gene-set store reports for the same data.
func (l *Ledger) SetGeneSetInfo(source, version string, sets map[string][]string, downloaded time.Time) error {
	hash := model.ContentHash(sets)
	if downloaded.IsZero() {
		downloaded = l.now()
	}
	return l.update(func(m *model.PipelineMetadata) {
		m.GeneSetSource = source
		m.GeneSetVersion = version
		m.GeneSetHash = hash
		m.GeneSetDownloadDate = downloaded.UTC()
	})
}

// SetParameters merges params into the recorded parameters.
func (l *Ledger) SetParameters(params map[string]any) error {
	return l.update(func(m *model.PipelineMetadata) { maps.Copy(m.Parameters, params) })
}

func (l *Ledger) SetInputSummary(s model.InputSummary) error {
	return l.update(func(m *model.PipelineMetadata) { m.InputSummary = &s })
}

func (l *Ledger) SetMappingReport(r model.MappingReport) error {
	return l.update(func(m *model.PipelineMetadata) { m.MappingReport = &r })
}

func (l *Ledger) SetOutputSummary(s model.OutputSummary) error {
	return l.update(func(m *model.PipelineMetadata) { m.OutputSummary = &s })
}

func (l *Ledger) AddWarning(w string) error {
	err := l.update(func(m *model.PipelineMetadata) { m.Warnings = append(m.Warnings, w) })
	if err == nil {
		l.logger.Warn("pipeline warning", "run_id", l.RunID(), "warning", w)
	}
	return err
}

func (l *Ledger) MarkStage(s model.Stage) error {
	return l.update(func(m *model.PipelineMetadata) { m.Stages = append(m.Stages, s) })
}

// missing names the fields a successful run must have populated.
func missing(m *model.PipelineMetadata) []string {
	var out []string
	check := func(name string, empty bool) {
		if empty {
			out = append(out, name)
		}
	}
	check("method", m.Method == "")
	check("gene_set_source", m.GeneSetSource == "")
	check("gene_set_hash", m.GeneSetHash == "")
	check("parameters", len(m.Parameters) == 0)
	check("input_summary", m.InputSummary == nil)
	check("mapping_report", m.MappingReport == nil)
	check("output_summary", m.OutputSummary == nil)
	return out
}

// Freeze seals a successful run. It fails without freezing when a required
// field was never set.
func (l *Ledger) Freeze() (model.PipelineMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return model.PipelineMetadata{}, ErrFrozen
	}
	if gaps := missing(&l.meta); len(gaps) > 0 {
		return model.PipelineMetadata{}, apperr.Internal("ledger.Freeze",
			"reproducibility record incomplete: missing "+strings.Join(gaps, ", ")).With("run_id", l.meta.RunID)
	}
	l.meta.Status = model.RunOK
	l.frozen = true
	return l.snapshot(), nil
}

// Fail seals a failed run. Whatever was recorded so far is kept.
func (l *Ledger) Fail(cause error) model.PipelineMetadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.frozen {
		l.meta.Status = model.RunFailed
		if cause != nil {
			l.meta.Error = cause.Error()
		}
		l.frozen = true
	}
	return l.snapshot()
}

// Snapshot returns a copy of the record as it stands.
func (l *Ledger) Snapshot() model.PipelineMetadata {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Ledger) snapshot() model.PipelineMetadata {
	m := l.meta
	m.Dependencies = maps.Clone(l.meta.Dependencies)
	m.Parameters = maps.Clone(l.meta.Parameters)
	m.Warnings = slices.Clone(l.meta.Warnings)
	m.Stages = slices.Clone(l.meta.Stages)
	if l.meta.InputSummary != nil {
		v := *l.meta.InputSummary
		m.InputSummary = &v
	}
	if l.meta.MappingReport != nil {
		v := *l.meta.MappingReport
		m.MappingReport = &v
	}
	if l.meta.OutputSummary != nil {
		v := *l.meta.OutputSummary
		m.OutputSummary = &v
	}
	return m
}

func ExportJSON(w io.Writer, m model.PipelineMetadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metadata json: %w", err)
	}
	return nil
}

func ExportYAML(w io.Writer, m model.PipelineMetadata) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode metadata yaml: %w", err)
	}
	return enc.Close()
}
