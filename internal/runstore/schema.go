package runstore

// schema is the fresh-install DDL. Unlike the teacher's store, this schema
// has no prior version to migrate from, so there is no migration path yet:
// add one the first time a shipped schema needs to change shape.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	plan_id     TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	finished_at TEXT,
	error       TEXT
);

CREATE TABLE IF NOT EXISTS node_runs (
	run_id          TEXT NOT NULL,
	node_id         TEXT NOT NULL,
	state           TEXT NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	started_at      TEXT,
	finished_at     TEXT,
	idempotency_key TEXT NOT NULL,
	output          TEXT,
	artifact_uris   TEXT,
	error           TEXT,
	error_kind      TEXT,
	PRIMARY KEY (run_id, node_id),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_node_runs_idempotency
	ON node_runs(idempotency_key, state, run_id);
`

const currentSchemaVersion = 1
