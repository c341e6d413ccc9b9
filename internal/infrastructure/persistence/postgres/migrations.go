package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(255) PRIMARY KEY,
    class_id VARCHAR(255) NOT NULL DEFAULT '',
    group_id VARCHAR(255) NOT NULL DEFAULT '',
    last_sign_in TIMESTAMP WITH TIME ZONE,
    learn_portal_endpoint TEXT NOT NULL DEFAULT '',
    total_sessions INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_total_sessions CHECK (total_sessions >= 0)
);

CREATE INDEX IF NOT EXISTS idx_students_group_id ON students(group_id);
`

const migration001Down = `
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    student_id VARCHAR(255) NOT NULL DEFAULT '',
    group_id VARCHAR(255) NOT NULL DEFAULT '',
    class_id VARCHAR(255) NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT FALSE,
    start_time TIMESTAMP WITH TIME ZONE,
    end_time TIMESTAMP WITH TIME ZONE,
    last_activity_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_sessions_active_activity ON sessions(last_activity_at) WHERE active;
CREATE INDEX IF NOT EXISTS idx_sessions_student_id ON sessions(student_id);

-- Append-only event log; position is the arrival index within the session.
CREATE TABLE IF NOT EXISTS session_events (
    session_id VARCHAR(255) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    event_id VARCHAR(64) NOT NULL DEFAULT '',
    actor VARCHAR(16) NOT NULL,
    verb VARCHAR(64) NOT NULL,
    object VARCHAR(64) NOT NULL,
    context JSONB NOT NULL DEFAULT '{}'::jsonb,
    sequence BIGINT NOT NULL DEFAULT 0,
    student_id VARCHAR(255) NOT NULL DEFAULT '',
    occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (session_id, position)
);

CREATE INDEX IF NOT EXISTS idx_session_events_shape ON session_events(verb, object);
`

const migration002Down = `
DROP TABLE IF EXISTS session_events;
DROP TABLE IF EXISTS sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE GROUPS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS groups (
    name VARCHAR(255) PRIMARY KEY,
    cache_disabled BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS group_collections (
    group_name VARCHAR(255) NOT NULL REFERENCES groups(name) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    collection_id VARCHAR(255) NOT NULL,
    tags TEXT[] NOT NULL DEFAULT '{}',

    PRIMARY KEY (group_name, position)
);
`

const migration003Down = `
DROP TABLE IF EXISTS group_collections;
DROP TABLE IF EXISTS groups;
`

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_students",
			UpSQL:   migration001Up,
			DownSQL: migration001Down,
		},
		{
			Version: 2,
			Name:    "create_sessions",
			UpSQL:   migration002Up,
			DownSQL: migration002Down,
		},
		{
			Version: 3,
			Name:    "create_groups",
			UpSQL:   migration003Up,
			DownSQL: migration003Down,
		},
	}
}
