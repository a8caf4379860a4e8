package database

const schema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS categories (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	sort_order INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	name TEXT DEFAULT '',
	email TEXT DEFAULT '',
	password_hash TEXT DEFAULT '',
	active BOOLEAN DEFAULT 1,
	approved BOOLEAN DEFAULT 0,
	admin BOOLEAN DEFAULT 0,
	trust_level INTEGER DEFAULT 0,
	email_messages_level INTEGER DEFAULT 0,
	avatar_url TEXT DEFAULT '',
	created_at DATETIME,
	last_seen_at DATETIME
);
CREATE TABLE IF NOT EXISTS user_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	PRIMARY KEY (group_id, user_id),
	FOREIGN KEY (group_id) REFERENCES user_groups(id) ON DELETE CASCADE,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS threads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	category_id INTEGER DEFAULT 1,
	user_id INTEGER,
	title TEXT NOT NULL,
	archetype TEXT NOT NULL DEFAULT 'regular',
	visible BOOLEAN DEFAULT 1,
	deleted_at DATETIME,
	bump DATETIME,
	reply_count INTEGER DEFAULT 0,
	created_at DATETIME,
	FOREIGN KEY (category_id) REFERENCES categories(id)
);
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	thread_id INTEGER NOT NULL,
	user_id INTEGER,
	post_number INTEGER NOT NULL DEFAULT 1,
	raw TEXT NOT NULL DEFAULT '',
	image_path TEXT DEFAULT '',
	thumbnail_path TEXT,
	image_hash TEXT DEFAULT '',
	hidden BOOLEAN DEFAULT 0,
	hidden_reason TEXT,
	hidden_message TEXT,
	hidden_at DATETIME,
	ip_hash TEXT DEFAULT '',
	created_at DATETIME,
	updated_at DATETIME,
	FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
);
-- Reviewables outlive their post so a late webhook can still clear them.
CREATE TABLE IF NOT EXISTS reviewables (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	target_post_id INTEGER NOT NULL UNIQUE,
	target_created_by INTEGER,
	created_by INTEGER,
	raw TEXT DEFAULT '',
	potential_spam BOOLEAN DEFAULT 0,
	reviewable_by_moderator BOOLEAN DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS post_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	action_type TEXT NOT NULL,
	message TEXT DEFAULT '',
	created_at DATETIME,
	UNIQUE (post_id, user_id, action_type),
	FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	template TEXT NOT NULL,
	params TEXT DEFAULT '{}',
	read BOOLEAN DEFAULT 0,
	created_at DATETIME,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
CREATE TABLE IF NOT EXISTS mod_actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	actor_id INTEGER NOT NULL DEFAULT 0,
	moderator_hash TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	target_id INTEGER,
	details TEXT
);

-- --- INDEXES ---
CREATE INDEX IF NOT EXISTS idx_posts_thread ON posts(thread_id, id);
CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id);
CREATE INDEX IF NOT EXISTS idx_posts_image_hash ON posts(image_hash);
CREATE INDEX IF NOT EXISTS idx_threads_category_bump ON threads(category_id, bump DESC);
CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read);
CREATE INDEX IF NOT EXISTS idx_mod_actions_time ON mod_actions(timestamp DESC);
`
