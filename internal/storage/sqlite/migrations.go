package sqlite

import "database/sql"

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Amounts are INTEGER columns scaled by 10^5; timestamps are Unix seconds.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
    chat_id INTEGER PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    settings_json TEXT NOT NULL DEFAULT '{}',
    active_wizard_user_id INTEGER,
    active_wizard_locked_at INTEGER,
    settings_editor_id INTEGER,
    settings_locked_at INTEGER,
    menu_message_id INTEGER,
    last_activity_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY,
    username TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    registered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_users (
    chat_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    joined_at INTEGER NOT NULL,
    PRIMARY KEY (chat_id, user_id),
    FOREIGN KEY (chat_id) REFERENCES groups(chat_id) ON DELETE CASCADE,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS drafts (
    id TEXT PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    kind TEXT NOT NULL,
    step INTEGER NOT NULL DEFAULT 1,
    payload_json TEXT NOT NULL,
    message_id INTEGER,
    revision INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    UNIQUE (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    payer_id INTEGER NOT NULL,
    amount_u5 INTEGER NOT NULL CHECK (amount_u5 > 0),
    description TEXT NOT NULL DEFAULT '',
    categories_json TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    rejected INTEGER NOT NULL DEFAULT 0,
    rejected_at INTEGER,
    message_id INTEGER,
    FOREIGN KEY (chat_id) REFERENCES groups(chat_id),
    FOREIGN KEY (payer_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS expense_shares (
    expense_id TEXT NOT NULL,
    debtor_id INTEGER NOT NULL,
    share_u5 INTEGER NOT NULL CHECK (share_u5 >= 0),
    status TEXT NOT NULL DEFAULT 'pending',
    status_at INTEGER,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (expense_id, debtor_id),
    FOREIGN KEY (expense_id) REFERENCES expenses(id) ON DELETE CASCADE,
    FOREIGN KEY (debtor_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS settlements (
    id TEXT PRIMARY KEY,
    chat_id INTEGER NOT NULL,
    from_user_id INTEGER NOT NULL,
    to_user_id INTEGER NOT NULL,
    amount_u5 INTEGER NOT NULL CHECK (amount_u5 > 0),
    status TEXT NOT NULL DEFAULT 'pending',
    created_at INTEGER NOT NULL,
    status_at INTEGER,
    message_id INTEGER,
    FOREIGN KEY (chat_id) REFERENCES groups(chat_id),
    FOREIGN KEY (from_user_id) REFERENCES users(id),
    FOREIGN KEY (to_user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS debts (
    from_user_id INTEGER NOT NULL,
    to_user_id INTEGER NOT NULL,
    amount_u5 INTEGER NOT NULL CHECK (amount_u5 > 0),
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (from_user_id, to_user_id),
    FOREIGN KEY (from_user_id) REFERENCES users(id),
    FOREIGN KEY (to_user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL,
    archive_message_id INTEGER NOT NULL,
    uploader_id INTEGER NOT NULL,
    mime TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    related_type TEXT NOT NULL,
    related_id TEXT NOT NULL,
    uploaded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_group_users_user_id ON group_users(user_id);
CREATE INDEX IF NOT EXISTS idx_drafts_expires_at ON drafts(expires_at);
CREATE INDEX IF NOT EXISTS idx_expenses_chat_id ON expenses(chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_expense_shares_status ON expense_shares(status, status_at);
CREATE INDEX IF NOT EXISTS idx_settlements_chat_id ON settlements(chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_settlements_status ON settlements(status, status_at);
CREATE INDEX IF NOT EXISTS idx_debts_to_user_id ON debts(to_user_id);
CREATE INDEX IF NOT EXISTS idx_files_relation ON files(related_type, related_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
