package model

// MaxReportedIDs bounds the id samples kept in a MappingReport.
const MaxReportedIDs = 10

type MappingReport struct {
	InputCount      int      `json:"input_count" yaml:"input_count"`
	MappedCount     int      `json:"mapped_count" yaml:"mapped_count"`
	UnmappedCount   int      `json:"unmapped_count" yaml:"unmapped_count"`
	DuplicatedCount int      `json:"duplicated_count" yaml:"duplicated_count"`
	UnmappedIDs     []string `json:"unmapped_ids" yaml:"unmapped_ids"`
	DuplicatedIDs   []string `json:"duplicated_ids" yaml:"duplicated_ids"`
	SourceType      string   `json:"source_type" yaml:"source_type"`
	TargetType      string   `json:"target_type" yaml:"target_type"`
	Species         string   `json:"species" yaml:"species"`
}

type MappingResult struct {
	Mapping  map[string]string `json:"mapping"`
	Report   MappingReport     `json:"report"`
	Warnings []string          `json:"warnings,omitempty"`
	// Order preserves the cleaned input order.
	Order []string `json:"-"`
}

// Symbols returns the unique mapped symbols in input order.
func (m MappingResult) Symbols() []string {
	seen := make(map[string]struct{}, len(m.Order))
	out := make([]string, 0, len(m.Order))
	for _, id := range m.Order {
		sym, ok := m.Mapping[id]
		if !ok || sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
