package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Integration accounts: one row per (user, provider) OAuth connection
CREATE TABLE IF NOT EXISTS integration_accounts (
    user_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_user_id TEXT NOT NULL,

    -- OAuth tokens
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    token_expires_at INTEGER NOT NULL,

    -- Sync state
    last_sync_at INTEGER,
    sync_error TEXT,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (user_id, provider)
);

-- Webhook events: durable log of every inbound notification item.
-- payload/object_id/aspect_type are immutable after insert; only the
-- processing state columns are mutated by the event processor.
CREATE TABLE IF NOT EXISTS webhook_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Event identity
    provider TEXT NOT NULL,
    event_type TEXT NOT NULL,
    aspect_type TEXT NOT NULL,
    object_id TEXT NOT NULL,
    owner_id TEXT NOT NULL,

    -- Event data
    payload TEXT NOT NULL,
    batch_index INTEGER NOT NULL DEFAULT 0,

    -- Processing state
    processed BOOLEAN NOT NULL DEFAULT 0,
    processed_at INTEGER,
    retry_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at INTEGER,
    process_error TEXT,
    resulting_activity_id TEXT,

    -- Metadata
    created_at INTEGER NOT NULL
);

-- Canonical activities: one row per physically distinct ride
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,

    -- Provider attribution (replaced wholesale on takeover)
    provider TEXT NOT NULL,
    provider_activity_id TEXT NOT NULL,
    source_priority INTEGER NOT NULL DEFAULT 0,

    -- Core metrics (seconds, meters, watts)
    name TEXT,
    sport TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    elapsed_seconds INTEGER NOT NULL,
    moving_seconds INTEGER,
    distance_m REAL,
    elevation_gain_m REAL,
    avg_speed_mps REAL,
    max_speed_mps REAL,
    avg_watts REAL,
    max_watts REAL,
    avg_heart_rate REAL,
    max_heart_rate REAL,
    kilojoules REAL,

    -- Telemetry
    map_polyline TEXT,
    streams_json TEXT,

    -- Audit
    raw_json TEXT NOT NULL,
    imported_from TEXT NOT NULL,
    deleted BOOLEAN NOT NULL DEFAULT 0,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Persisted webhook health diagnostics, one row per provider
CREATE TABLE IF NOT EXISTS webhook_health (
    provider TEXT PRIMARY KEY,
    last_received_at INTEGER NOT NULL,
    received_total INTEGER NOT NULL DEFAULT 0
);

-- Durable sliding-window rate limit counters keyed by client identity
CREATE TABLE IF NOT EXISTS rate_limit_buckets (
    key TEXT NOT NULL,
    bucket INTEGER NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (key, bucket)
);

-- Indexes for integration_accounts
CREATE INDEX IF NOT EXISTS idx_accounts_provider_user ON integration_accounts(provider, provider_user_id);

-- Indexes for webhook_events
CREATE INDEX IF NOT EXISTS idx_webhook_events_pending ON webhook_events(processed, next_retry_at, created_at) WHERE processed = 0;
CREATE INDEX IF NOT EXISTS idx_webhook_events_object ON webhook_events(provider, object_id, aspect_type);
CREATE INDEX IF NOT EXISTS idx_webhook_events_owner ON webhook_events(provider, owner_id);

-- Indexes for activities
CREATE UNIQUE INDEX IF NOT EXISTS idx_activities_provider_unique ON activities(user_id, provider, provider_activity_id);
CREATE INDEX IF NOT EXISTS idx_activities_user_start ON activities(user_id, start_time DESC);
CREATE INDEX IF NOT EXISTS idx_activities_deleted ON activities(deleted);
`
