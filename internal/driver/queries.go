package driver

const (
	SaveRunNodeQuery = `
		MERGE (r:Run {run_id: $run_id})
		SET r.method = $method,
			r.created_at = $created_at,
			r.sources = $sources,
			r.total_original_terms = $total_original_terms,
			r.total_modules = $total_modules
		RETURN r.run_id AS run_id
	`

	SaveModuleNodeQuery = `
		MATCH (r:Run {run_id: $run_id})
		MERGE (m:Module {uuid: $uuid})
		SET m.representative_term = $representative_term,
			m.fdr = $fdr,
			m.p_value = $p_value,
			m.source = $source,
			m.cluster_size = $cluster_size,
			m.rank = $rank
		MERGE (r)-[:HAS_MODULE]->(m)
		RETURN m.uuid AS uuid
	`

	// Pathway identity is (name, source); the same term from two databases
	// stays two nodes.
	SaveModuleMembersQuery = `
		MATCH (m:Module {uuid: $uuid})
		UNWIND $members AS member
		MERGE (p:Pathway {name: member.term, source: member.source})
		MERGE (m)-[e:HAS_MEMBER]->(p)
		SET e.p_value = member.p_value,
			e.fdr = member.fdr,
			e.representative = member.representative
		WITH p, member
		UNWIND member.genes AS symbol
		MERGE (g:Gene {symbol: symbol})
		MERGE (p)-[:CONTAINS_GENE]->(g)
		RETURN count(DISTINCT p) AS pathways
	`

	GetRunModulesQuery = `
		MATCH (r:Run {run_id: $run_id})-[:HAS_MODULE]->(m:Module)
		OPTIONAL MATCH (m)-[:HAS_MEMBER]->(p:Pathway)
		RETURN m.uuid AS uuid,
			m.representative_term AS representative_term,
			m.cluster_size AS cluster_size,
			collect(p.name) AS members
		ORDER BY m.rank
	`

	DeleteRunQuery = `
		MATCH (r:Run {run_id: $run_id})
		OPTIONAL MATCH (r)-[:HAS_MODULE]->(m:Module)
		DETACH DELETE r, m
	`
)
