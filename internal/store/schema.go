package store

// SchemaVersion is the schema version this build writes.
const SchemaVersion = 2

// DefaultChunkSize is the content chunk size recorded for new databases.
const DefaultChunkSize = 4096

// Meta keys stored in agentfs_meta.
const (
	metaSchemaVersion = "schema_version"
	metaChunkSize     = "chunk_size"
)

// schemaV1 is the base layout: nodes, content chunks, key-value entries and
// tool calls. No foreign keys; referential integrity is kept by the engines.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS agentfs_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Filesystem nodes (parent-pointer tree)
CREATE TABLE IF NOT EXISTS fs_node (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_id INTEGER,
    name TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('file', 'dir')),
    size INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL,
    content_ref TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_fs_node_parent_name ON fs_node(parent_id, name);
CREATE INDEX IF NOT EXISTS idx_fs_node_content ON fs_node(content_ref) WHERE content_ref IS NOT NULL;

-- File content, split into fixed-size chunks
CREATE TABLE IF NOT EXISTS fs_content (
    ref TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    data BLOB NOT NULL,
    PRIMARY KEY (ref, chunk_index)
);

-- Key-value entries
CREATE TABLE IF NOT EXISTS kv_store (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL
);

-- Tool call ledger
CREATE TABLE IF NOT EXISTS tool_calls (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    args_summary TEXT NOT NULL DEFAULT '',
    started_at INTEGER NOT NULL,
    duration INTEGER NOT NULL,
    outcome TEXT NOT NULL CHECK (outcome IN ('success', 'error')),
    message TEXT
);

CREATE INDEX IF NOT EXISTS idx_tool_calls_started_at ON tool_calls(started_at);
`

// schemaV2 adds ownership metadata to nodes and makes the ledger append-only.
const schemaV2 = `
ALTER TABLE fs_node ADD COLUMN mode INTEGER NOT NULL DEFAULT 0;
ALTER TABLE fs_node ADD COLUMN uid INTEGER NOT NULL DEFAULT 0;
ALTER TABLE fs_node ADD COLUMN gid INTEGER NOT NULL DEFAULT 0;
UPDATE fs_node SET mode = CASE kind WHEN 'dir' THEN 493 ELSE 420 END;

CREATE INDEX IF NOT EXISTS idx_tool_calls_name ON tool_calls(name);

CREATE TRIGGER IF NOT EXISTS tool_calls_no_update BEFORE UPDATE ON tool_calls
BEGIN
    SELECT RAISE(ABORT, 'tool_calls is append-only');
END;

CREATE TRIGGER IF NOT EXISTS tool_calls_no_delete BEFORE DELETE ON tool_calls
BEGIN
    SELECT RAISE(ABORT, 'tool_calls is append-only');
END;
`

type migration struct {
	version int
	sql     string
}

// migrations are applied in order to bring a database to SchemaVersion.
var migrations = []migration{
	{version: 1, sql: schemaV1},
	{version: 2, sql: schemaV2},
}
