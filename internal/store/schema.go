package store

// schema is applied on open. Timestamps are unix seconds (UTC).
// cards.card_key is unique in its canonical grouped form; the partial
// CAS in ConsumeCard relies on is_used being checked in the UPDATE's
// WHERE clause, so at most one consumer can ever win.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	role          TEXT    NOT NULL DEFAULT 'user',
	parent_id     INTEGER NOT NULL DEFAULT 0,
	balance       REAL    NOT NULL DEFAULT 0,
	discount      REAL    NOT NULL DEFAULT 1,
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS applications (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT    NOT NULL,
	app_key            TEXT    NOT NULL UNIQUE,
	app_secret         TEXT    NOT NULL,
	owner_id           INTEGER NOT NULL,
	description        TEXT    NOT NULL DEFAULT '',
	max_devices        INTEGER NOT NULL DEFAULT 1,
	heartbeat_interval INTEGER NOT NULL DEFAULT 60,
	is_active          INTEGER NOT NULL DEFAULT 1,
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cards (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	card_key       TEXT    NOT NULL UNIQUE,
	card_type      TEXT    NOT NULL,
	duration_days  INTEGER NOT NULL,
	application_id INTEGER NOT NULL,
	creator_id     INTEGER NOT NULL,
	price          REAL    NOT NULL DEFAULT 0,
	is_used        INTEGER NOT NULL DEFAULT 0,
	used_by        TEXT    NOT NULL DEFAULT '',
	used_at        INTEGER,
	expires_at     INTEGER,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cards_application ON cards(application_id);
CREATE INDEX IF NOT EXISTS idx_cards_creator ON cards(creator_id);

CREATE TABLE IF NOT EXISTS devices (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      TEXT    NOT NULL,
	token          TEXT    NOT NULL UNIQUE,
	application_id INTEGER NOT NULL,
	card_key       TEXT    NOT NULL DEFAULT '',
	expires_at     INTEGER NOT NULL,
	last_heartbeat INTEGER NOT NULL,
	ip_address     TEXT    NOT NULL DEFAULT '',
	extra_info     TEXT    NOT NULL DEFAULT '',
	is_active      INTEGER NOT NULL DEFAULT 1,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_lookup ON devices(application_id, token, device_id);
CREATE INDEX IF NOT EXISTS idx_devices_identity ON devices(application_id, device_id);

CREATE TABLE IF NOT EXISTS heartbeat_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      TEXT    NOT NULL,
	application_id INTEGER NOT NULL,
	ip_address     TEXT    NOT NULL DEFAULT '',
	status         TEXT    NOT NULL,
	message        TEXT    NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_heartbeat_logs_app ON heartbeat_logs(application_id, created_at);

CREATE TABLE IF NOT EXISTS recharge_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL,
	amount         REAL    NOT NULL,
	before_balance REAL    NOT NULL,
	after_balance  REAL    NOT NULL,
	remark         TEXT    NOT NULL DEFAULT '',
	operator_id    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
`
