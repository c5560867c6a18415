package model

import (
	"encoding/json"
	"fmt"
)

type ResultKind string

const (
	KindORA    ResultKind = "ora"
	KindGSEA   ResultKind = "gsea"
	KindModule ResultKind = "module"
)

// Result is implemented only by ORARecord, GSEARecord and Module.
type Result interface {
	resultKind() ResultKind
}

func (ORARecord) resultKind() ResultKind  { return KindORA }
func (GSEARecord) resultKind() ResultKind { return KindGSEA }
func (Module) resultKind() ResultKind     { return KindModule }

func KindOf(r Result) ResultKind { return r.resultKind() }

// TaggedRecord pairs a result with the gene-set source that produced it.
type TaggedRecord struct {
	Source string
	Record Result
}

type taggedEnvelope struct {
	Kind   ResultKind      `json:"kind"`
	Source string          `json:"source"`
	Record json.RawMessage `json:"record"`
}

func (t TaggedRecord) MarshalJSON() ([]byte, error) {
	var (
		payload []byte
		err     error
		kind    ResultKind
	)
	switch r := t.Record.(type) {
	case ORARecord:
		kind = KindORA
		payload, err = json.Marshal(r)
	case GSEARecord:
		kind = KindGSEA
		payload, err = json.Marshal(r)
	case Module:
		kind = KindModule
		payload, err = json.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown result variant %T", t.Record)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedEnvelope{Kind: kind, Source: t.Source, Record: payload})
}

func (t *TaggedRecord) UnmarshalJSON(data []byte) error {
	var env taggedEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	t.Source = env.Source
	switch env.Kind {
	case KindORA:
		var r ORARecord
		if err := json.Unmarshal(env.Record, &r); err != nil {
			return err
		}
		t.Record = r
	case KindGSEA:
		var r GSEARecord
		if err := json.Unmarshal(env.Record, &r); err != nil {
			return err
		}
		t.Record = r
	case KindModule:
		var r Module
		if err := json.Unmarshal(env.Record, &r); err != nil {
			return err
		}
		t.Record = r
	default:
		return fmt.Errorf("unknown result kind %q", env.Kind)
	}
	return nil
}

// Term returns the pathway or representative name of a result.
func Term(r Result) string {
	switch v := r.(type) {
	case ORARecord:
		return v.PathwayName
	case GSEARecord:
		return v.PathwayName
	case Module:
		return v.RepresentativeTerm
	}
	return ""
}

// Genes returns the gene list a result contributes to similarity scoring:
// hit genes for ORA, leading-edge genes for GSEA.
func Genes(r Result) []string {
	switch v := r.(type) {
	case ORARecord:
		return v.HitGenes
	case GSEARecord:
		return v.LeadGenes
	case Module:
		return v.Genes
	}
	return nil
}

func Significance(r Result) (pValue, fdr float64) {
	switch v := r.(type) {
	case ORARecord:
		return v.PValue, v.FDR
	case GSEARecord:
		return v.PValue, v.FDR
	case Module:
		return v.PValue, v.FDR
	}
	return 1, 1
}
