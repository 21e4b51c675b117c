package postgres

import "context"

// schemaDDL creates the four tables MetricsStore needs. Nested structures
// (test_history, seen_test_ids, seen_request_ids) are kept as JSONB
// documents rather than normalized tables, since nothing queries inside
// those documents, only the owning row.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS agent_metrics (
	agent_type   TEXT PRIMARY KEY,
	metrics      JSONB NOT NULL,
	seen_test_ids JSONB NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS metrics_archive (
	id          BIGSERIAL PRIMARY KEY,
	agent_type  TEXT NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL,
	snapshot    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS metrics_archive_agent_type_idx ON metrics_archive (agent_type, archived_at);

CREATE TABLE IF NOT EXISTS token_ledger (
	provider      TEXT NOT NULL,
	granularity   TEXT NOT NULL,
	window_start  TIMESTAMPTZ NOT NULL,
	tokens_used   BIGINT NOT NULL DEFAULT 0,
	request_count BIGINT NOT NULL DEFAULT 0,
	seen_request_ids JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (provider, granularity, window_start)
);

CREATE TABLE IF NOT EXISTS token_ledger_archive (
	id          BIGSERIAL PRIMARY KEY,
	archived_at TIMESTAMPTZ NOT NULL,
	snapshot    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS token_ledger_archive_window_idx ON token_ledger_archive ((snapshot->>'WindowStart'));
`

// Migrate applies the schema, idempotently. Called once at startup by
// cmd/orchestratord before any Store method runs.
func Migrate(ctx context.Context, s *BaseStore) error {
	_, err := s.exec(ctx, schemaDDL)
	return err
}
