package model

import "time"

type RunStatus string

const (
	RunOK     RunStatus = "ok"
	RunFailed RunStatus = "failed"
)

type Stage string

const (
	StageSpecies    Stage = "species"
	StageMapping    Stage = "mapping"
	StageGeneSets   Stage = "gene_sets"
	StageStatistics Stage = "statistics"
	StageOutput     Stage = "output"
)

var Stages = []Stage{StageSpecies, StageMapping, StageGeneSets, StageStatistics, StageOutput}

type InputSummary struct {
	InputCount        int     `json:"input_count" yaml:"input_count"`
	Species           string  `json:"species" yaml:"species"`
	SpeciesConfidence float64 `json:"species_confidence" yaml:"species_confidence"`
	SpeciesMethod     string  `json:"species_method" yaml:"species_method"`
	IDType            string  `json:"id_type" yaml:"id_type"`
	IDTypeConfidence  float64 `json:"id_type_confidence" yaml:"id_type_confidence"`
}

type OutputSummary struct {
	TestedSets      int `json:"tested_sets" yaml:"tested_sets"`
	SignificantSets int `json:"significant_sets" yaml:"significant_sets"`
	Upregulated     int `json:"upregulated,omitempty" yaml:"upregulated,omitempty"`
	Downregulated   int `json:"downregulated,omitempty" yaml:"downregulated,omitempty"`
}

type PipelineMetadata struct {
	RunID               string            `json:"run_id" yaml:"run_id"`
	Timestamp           time.Time         `json:"timestamp" yaml:"timestamp"`
	Status              RunStatus         `json:"status" yaml:"status"`
	Error               string            `json:"error,omitempty" yaml:"error,omitempty"`
	SoftwareVersion     string            `json:"software_version" yaml:"software_version"`
	GoVersion           string            `json:"go_version" yaml:"go_version"`
	Dependencies        map[string]string `json:"dependencies" yaml:"dependencies"`
	GeneSetSource       string            `json:"gene_set_source" yaml:"gene_set_source"`
	GeneSetVersion      string            `json:"gene_set_version" yaml:"gene_set_version"`
	GeneSetHash         string            `json:"gene_set_hash" yaml:"gene_set_hash"`
	GeneSetDownloadDate time.Time         `json:"gene_set_download_date" yaml:"gene_set_download_date"`
	Method              string            `json:"method" yaml:"method"`
	Parameters          map[string]any    `json:"parameters" yaml:"parameters"`
	InputSummary        *InputSummary     `json:"input_summary" yaml:"input_summary"`
	MappingReport       *MappingReport    `json:"mapping_report" yaml:"mapping_report"`
	OutputSummary       *OutputSummary    `json:"output_summary" yaml:"output_summary"`
	Warnings            []string          `json:"warnings" yaml:"warnings"`
	Stages              []Stage           `json:"stages" yaml:"stages"`
}
