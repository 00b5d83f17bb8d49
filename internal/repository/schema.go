package repository

// Schema definitions for the ClaimGuard database.
// Compatible with both SQLite and PostgreSQL.

// customer_history is written by external ingestion; the scoring pipeline only reads it.
// insert_seq breaks ties between records with the same recorded_at.
const schemaCustomerHistory = `
CREATE TABLE IF NOT EXISTS customer_history (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    name TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    age INTEGER NOT NULL,
    diagnosis TEXT NOT NULL,
    hospital_type TEXT NOT NULL,
    previous_claims INTEGER NOT NULL,
    claim_amount REAL NOT NULL,
    insert_seq BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customer_history_lookup ON customer_history(tenant_id, customer_id, name, recorded_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    delta REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
`

// scoring_results is append-only: no statement in this package updates or deletes rows.
const schemaScoringResults = `
CREATE TABLE IF NOT EXISTS scoring_results (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    name TEXT NOT NULL,
    claim_amount REAL NOT NULL,
    age INTEGER NOT NULL,
    diagnosis TEXT NOT NULL,
    hospital_type TEXT NOT NULL,
    previous_claims INTEGER NOT NULL,
    verdict TEXT NOT NULL,
    probability REAL NOT NULL,
    base_probability REAL NOT NULL,
    rules_fired TEXT NOT NULL,
    model_version TEXT NOT NULL,
    model_degraded INTEGER NOT NULL DEFAULT 0,
    fallback_fields TEXT,
    timestamp TIMESTAMP NOT NULL,
    insert_seq BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scoring_results_customer ON scoring_results(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_scoring_results_timestamp ON scoring_results(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_scoring_results_verdict ON scoring_results(tenant_id, verdict);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomerHistory,
		schemaRuleConfigs,
		schemaScoringResults,
	}
}
