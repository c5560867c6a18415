package model

type ORARecord struct {
	PathwayName    string   `json:"pathway_name"`
	PValue         float64  `json:"p_value"`
	FDR            float64  `json:"fdr"`
	OddsRatio      float64  `json:"odds_ratio"`
	HitGenes       []string `json:"hit_genes"`
	HitCount       int      `json:"hit_count"`
	PathwaySize    int      `json:"pathway_size"`
	BackgroundSize int      `json:"background_size"`
	OverlapRatio   string   `json:"overlap_ratio"`
}

type GSEARecord struct {
	PathwayName string   `json:"pathway_name"`
	ES          float64  `json:"es"`
	NES         float64  `json:"nes"`
	PValue      float64  `json:"p_value"`
	FDR         float64  `json:"fdr"`
	FWER        float64  `json:"fwer"`
	LeadGenes   []string `json:"lead_genes"`
	GeneSize    int      `json:"gene_size"`
	RankAtMax   int      `json:"rank_at_max"`
}

func (r GSEARecord) Upregulated() bool { return r.NES > 0 }

// Module is a cluster of redundant terms. Genes holds the representative's
// genes only; Members[0] is the representative. Members keep their full
// records.
type Module struct {
	RepresentativeTerm string         `json:"representative_term"`
	FDR                float64        `json:"fdr"`
	PValue             float64        `json:"p_value"`
	Source             string         `json:"source"`
	Genes              []string       `json:"genes"`
	Members            []TaggedRecord `json:"members"`
	ClusterSize        int            `json:"cluster_size"`
}
