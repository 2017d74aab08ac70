package store

// Schema bootstraps the tables this service owns. Applied once at
// startup; idempotent via IF NOT EXISTS.
const Schema = `
CREATE TABLE IF NOT EXISTS live_sessions (
	session_id              TEXT PRIMARY KEY,
	host_id                 TEXT NOT NULL,
	leader_id               TEXT NOT NULL,
	participant_ids         JSONB NOT NULL DEFAULT '[]',
	status                  TEXT NOT NULL,
	invite_code             TEXT NOT NULL,
	routine_data            JSONB NOT NULL DEFAULT '[]',
	sync_mode               TEXT NOT NULL DEFAULT 'soft',
	participant_heartbeats  JSONB NOT NULL DEFAULT '{}',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at              TIMESTAMPTZ,
	ended_at                TIMESTAMPTZ,
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS live_sessions_invite_code_active_idx
	ON live_sessions (invite_code)
	WHERE status IN ('pending', 'active');

CREATE TABLE IF NOT EXISTS live_session_notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	read       BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS live_session_notifications_user_unread_idx
	ON live_session_notifications (user_id)
	WHERE NOT read;
`

// NotifyChannel is the Postgres NOTIFY channel carrying the ordered
// change feed for session row mutations.
const NotifyChannel = "live_session_changes"

const notifyChannel = NotifyChannel
