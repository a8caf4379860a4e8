// modgate/database/database.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modgate/models"
	"modgate/utils"

	_ "github.com/mattn/go-sqlite3"
)

// ErrReviewableClosed is returned when a reviewable is no longer pending.
var ErrReviewableClosed = errors.New("reviewable already resolved")

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB     *sql.DB
	logger *slog.Logger
	dsn    string
	files  models.StorageService
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InitDB connects to the database, runs migrations, and seeds default data.
func InitDB(dataSourceName string, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	// Seed database if empty
	var categoryCount int
	if err := db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&categoryCount); err == nil && categoryCount == 0 {
		if _, err := db.Exec("INSERT INTO categories (id, name) VALUES (1, 'General')"); err != nil {
			return nil, fmt.Errorf("failed to seed categories: %w", err)
		}
	}

	logger.Info("Database initialized.")

	return &DatabaseService{
		DB:     db,
		logger: logger,
		dsn:    dataSourceName,
	}, nil
}

// UseStorage sets where attachment files live, so they can be removed
// together with their posts.
func (ds *DatabaseService) UseStorage(files models.StorageService) {
	ds.files = files
}

// Close closes the underlying connection pool.
func (ds *DatabaseService) Close() error {
	return ds.DB.Close()
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase() (string, error) {
	if utils.BackupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(utils.BackupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", utils.BackupDir, err)
	}

	timestamp := utils.GetSQLTime().Format("2006-01-02_15-04-05")
	backupPath := filepath.Join(utils.BackupDir, fmt.Sprintf("modgate_backup_%s.db", timestamp))

	ds.logger.Info("Starting database backup", "destination", backupPath)

	if _, err := ds.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		// If backup fails, attempt to remove the potentially incomplete file
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	return backupPath, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version <= latestVersion {
			continue
		}
		logger.Info("Applying migration", "version", m.Version)
		tx, err := db.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(m.Query); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
		logger.Info("Successfully applied migration", "version", m.Version)
	}
	return nil
}

// --- Users ---

const userColumns = `id, username, name, email, password_hash, active, approved, admin, trust_level, email_messages_level, avatar_url, created_at, last_seen_at`

func (ds *DatabaseService) scanUser(ctx context.Context, row *sql.Row) (*models.User, error) {
	var u models.User
	var createdAt, lastSeenAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.PasswordHash, &u.Active, &u.Approved, &u.Admin,
		&u.TrustLevel, &u.EmailLevel, &u.AvatarURL, &createdAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt, u.LastSeenAt = createdAt.Time, lastSeenAt.Time

	groups, err := ds.groupIDs(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.GroupIDs = groups
	return &u, nil
}

// GetUser fetches a user and their group memberships.
func (ds *DatabaseService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return ds.scanUser(ctx, ds.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", userID))
}

// FindUserByUsername fetches a user by their unique username.
func (ds *DatabaseService) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return ds.scanUser(ctx, ds.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

// CreateUser inserts a user and their group memberships. Unknown groups are created.
func (ds *DatabaseService) CreateUser(ctx context.Context, u *models.User) (int64, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer ds.rollback(tx, "CreateUser")

	if u.CreatedAt.IsZero() {
		u.CreatedAt = utils.GetSQLTime()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO users (username, name, email, password_hash, active, approved, admin, trust_level, email_messages_level, avatar_url, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Name, u.Email, u.PasswordHash, u.Active, u.Approved, u.Admin, u.TrustLevel, u.EmailLevel, u.AvatarURL, u.CreatedAt, u.LastSeenAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert user %q: %w", u.Username, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, gid := range u.GroupIDs {
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO user_groups (id, name) VALUES (?, ?)", gid, fmt.Sprintf("group_%d", gid)); err != nil {
			return 0, fmt.Errorf("failed to ensure group %d: %w", gid, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", gid, id); err != nil {
			return 0, fmt.Errorf("failed to add user to group %d: %w", gid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

func (ds *DatabaseService) groupIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT group_id FROM group_members WHERE user_id = ? ORDER BY group_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Threads & Posts ---

// GetThread fetches a thread, including trashed ones.
func (ds *DatabaseService) GetThread(ctx context.Context, threadID int64) (*models.Thread, error) {
	var t models.Thread
	var userID sql.NullInt64
	err := ds.DB.QueryRowContext(ctx, `SELECT id, category_id, user_id, title, archetype, visible, deleted_at, bump, reply_count, created_at FROM threads WHERE id = ?`, threadID).Scan(
		&t.ID, &t.CategoryID, &userID, &t.Title, &t.Archetype, &t.Visible, &t.DeletedAt, &t.Bump, &t.ReplyCount, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread %d: %w", threadID, err)
	}
	t.UserID = userID.Int64
	return &t, nil
}

// CreateTopic inserts a thread together with its first post.
func (ds *DatabaseService) CreateTopic(ctx context.Context, t *models.Thread, p *models.Post) (threadID, postID int64, err error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer ds.rollback(tx, "CreateTopic")

	now := utils.GetSQLTime()
	if t.Archetype == "" {
		t.Archetype = models.ArchetypeRegular
	}
	if t.CategoryID == 0 {
		t.CategoryID = 1
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO threads (category_id, user_id, title, archetype, visible, bump, created_at) VALUES (?, ?, ?, ?, 1, ?, ?)`,
		t.CategoryID, t.UserID, t.Title, t.Archetype, now, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to insert thread: %w", err)
	}
	threadID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}

	p.ThreadID, p.PostNumber = threadID, 1
	postID, err = insertPost(ctx, tx, p, now)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	t.ID = threadID
	return threadID, postID, nil
}

// CreateReply appends a post to an existing, untrashed thread.
func (ds *DatabaseService) CreateReply(ctx context.Context, p *models.Post) (int64, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer ds.rollback(tx, "CreateReply")

	var next int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE((SELECT MAX(post_number) FROM posts WHERE thread_id = t.id), 0) + 1 FROM threads t WHERE t.id = ? AND t.deleted_at IS NULL`, p.ThreadID).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up thread %d: %w", p.ThreadID, err)
	}

	now := utils.GetSQLTime()
	p.PostNumber = next
	postID, err := insertPost(ctx, tx, p, now)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE threads SET reply_count = reply_count + 1, bump = ? WHERE id = ?", now, p.ThreadID); err != nil {
		return 0, fmt.Errorf("failed to bump thread: %w", err)
	}
	return postID, tx.Commit()
}

func insertPost(ctx context.Context, tx *sql.Tx, p *models.Post, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO posts (thread_id, user_id, post_number, raw, image_path, thumbnail_path, image_hash, ip_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ThreadID, p.UserID, p.PostNumber, p.Raw, p.ImagePath, p.ThumbnailPath, p.ImageHash, p.IPHash, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now
	return id, nil
}

// UpdatePostRaw replaces a post's raw text and bumps its edit count.
func (ds *DatabaseService) UpdatePostRaw(ctx context.Context, postID int64, raw string) error {
	res, err := ds.DB.ExecContext(ctx, "UPDATE posts SET raw = ?, edit_count = edit_count + 1, updated_at = ? WHERE id = ?", raw, utils.GetSQLTime(), postID)
	if err != nil {
		return fmt.Errorf("failed to update post %d: %w", postID, err)
	}
	return expectRow(res)
}

// FindImageByHash returns the stored paths of an attachment with the given
// content hash, so identical uploads share one file.
func (ds *DatabaseService) FindImageByHash(ctx context.Context, hash string) (string, sql.NullString, error) {
	var path string
	var thumb sql.NullString
	err := ds.DB.QueryRowContext(ctx, "SELECT image_path, thumbnail_path FROM posts WHERE image_hash = ? AND image_path != '' LIMIT 1", hash).Scan(&path, &thumb)
	if err == sql.ErrNoRows {
		return "", sql.NullString{}, models.ErrNotFound
	}
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("failed to look up image %s: %w", hash, err)
	}
	return path, thumb, nil
}

const postColumns = `p.id, p.thread_id, p.user_id, p.post_number, p.raw, p.image_path, p.thumbnail_path, p.image_hash,
	p.hidden, p.hidden_reason, p.hidden_message, p.hidden_at, p.edit_count, p.ip_hash, p.created_at, p.updated_at,
	t.title, t.visible, t.deleted_at IS NOT NULL, t.archetype, t.category_id,
	(SELECT MIN(id) FROM posts WHERE thread_id = p.thread_id) = p.id`

// GetPost fetches a post that is publicly visible: not hidden and in a visible,
// untrashed thread.
func (ds *DatabaseService) GetPost(ctx context.Context, postID int64) (*models.Post, error) {
	return ds.getPost(ctx, postID, true)
}

// GetPostUnscoped fetches a post regardless of hidden state or thread visibility.
func (ds *DatabaseService) GetPostUnscoped(ctx context.Context, postID int64) (*models.Post, error) {
	return ds.getPost(ctx, postID, false)
}

func (ds *DatabaseService) getPost(ctx context.Context, postID int64, scoped bool) (*models.Post, error) {
	query := "SELECT " + postColumns + " FROM posts p JOIN threads t ON p.thread_id = t.id WHERE p.id = ?"
	if scoped {
		query += " AND p.hidden = 0 AND t.visible = 1 AND t.deleted_at IS NULL"
	}

	var p models.Post
	var userID sql.NullInt64
	err := ds.DB.QueryRowContext(ctx, query, postID).Scan(
		&p.ID, &p.ThreadID, &userID, &p.PostNumber, &p.Raw, &p.ImagePath, &p.ThumbnailPath, &p.ImageHash,
		&p.Hidden, &p.HiddenReason, &p.HiddenMessage, &p.HiddenAt, &p.EditCount, &p.IPHash, &p.CreatedAt, &p.UpdatedAt,
		&p.TopicTitle, &p.TopicVisible, &p.TopicTrashed, &p.Archetype, &p.CategoryID, &p.IsOp,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post %d: %w", postID, err)
	}
	p.UserID = userID.Int64

	if p.UserID > 0 {
		groups, err := ds.groupIDs(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		p.AuthorGroupIDs = groups
	}
	return &p, nil
}

// HidePost hides a post. The original hidden_at is kept on repeated calls.
func (ds *DatabaseService) HidePost(ctx context.Context, postID int64, reason, message string) error {
	now := utils.GetSQLTime()
	res, err := ds.DB.ExecContext(ctx, `UPDATE posts SET hidden = 1, hidden_reason = ?, hidden_message = ?, hidden_at = COALESCE(hidden_at, ?), updated_at = ? WHERE id = ?`,
		reason, sql.NullString{String: message, Valid: message != ""}, now, now, postID)
	if err != nil {
		return fmt.Errorf("failed to hide post %d: %w", postID, err)
	}
	return expectRow(res)
}

// UnhidePost clears a post's hidden state.
func (ds *DatabaseService) UnhidePost(ctx context.Context, postID int64) error {
	res, err := ds.DB.ExecContext(ctx, `UPDATE posts SET hidden = 0, hidden_reason = NULL, hidden_message = NULL, hidden_at = NULL, updated_at = ? WHERE id = ?`,
		utils.GetSQLTime(), postID)
	if err != nil {
		return fmt.Errorf("failed to unhide post %d: %w", postID, err)
	}
	return expectRow(res)
}

// SetTopicVisible lists or unlists a thread.
func (ds *DatabaseService) SetTopicVisible(ctx context.Context, threadID int64, visible bool) error {
	res, err := ds.DB.ExecContext(ctx, "UPDATE threads SET visible = ? WHERE id = ?", visible, threadID)
	if err != nil {
		return fmt.Errorf("failed to update thread %d visibility: %w", threadID, err)
	}
	return expectRow(res)
}

// DeletePost permanently deletes a post. Deleting the first post of a thread
// deletes the whole thread. Attachments no other post references are removed
// from storage after the commit.
func (ds *DatabaseService) DeletePost(ctx context.Context, postID int64) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer ds.rollback(tx, "DeletePost")

	files, err := deletePostTx(ctx, tx, postID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ds.removeOrphanedFiles(ctx, files)
	return nil
}

// DeleteTopic permanently deletes a thread through its first post.
func (ds *DatabaseService) DeleteTopic(ctx context.Context, threadID int64) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer ds.rollback(tx, "DeleteTopic")

	var firstID sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT (SELECT MIN(id) FROM posts WHERE thread_id = t.id) FROM threads t WHERE t.id = ?", threadID).Scan(&firstID)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up thread %d: %w", threadID, err)
	}

	var files []attachment
	if firstID.Valid {
		if files, err = deletePostTx(ctx, tx, firstID.Int64); err != nil {
			return err
		}
	} else if _, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", threadID); err != nil {
		return fmt.Errorf("failed to delete empty thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	ds.removeOrphanedFiles(ctx, files)
	return nil
}

type attachment struct{ Path, Hash string }

func deletePostTx(ctx context.Context, tx *sql.Tx, postID int64) ([]attachment, error) {
	var threadID int64
	var isOp bool
	var imagePath, imageHash string
	var thumbnailPath sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT p.thread_id, p.image_path, p.thumbnail_path, p.image_hash, (SELECT MIN(id) FROM posts WHERE thread_id = p.thread_id) = p.id FROM posts p WHERE p.id = ?`, postID).Scan(
		&threadID, &imagePath, &thumbnailPath, &imageHash, &isOp)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up post %d: %w", postID, err)
	}

	var files []attachment
	if !isOp {
		if imagePath != "" {
			files = append(files, attachment{imagePath, imageHash})
			if thumbnailPath.Valid {
				files = append(files, attachment{thumbnailPath.String, imageHash})
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM post_actions WHERE post_id = ?", postID); err != nil {
			return nil, fmt.Errorf("failed to delete post actions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", postID); err != nil {
			return nil, fmt.Errorf("failed to delete reply post: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE threads SET reply_count = MAX(reply_count - 1, 0) WHERE id = ?", threadID); err != nil {
			return nil, fmt.Errorf("failed to update reply count: %w", err)
		}
		return files, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT image_path, thumbnail_path, image_hash FROM posts WHERE thread_id = ? AND image_path != ''", threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images for thread deletion: %w", err)
	}
	for rows.Next() {
		var p, h string
		var t sql.NullString
		if err := rows.Scan(&p, &t, &h); err != nil {
			rows.Close()
			return nil, err
		}
		files = append(files, attachment{p, h})
		if t.Valid {
			files = append(files, attachment{t.String, h})
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM post_actions WHERE post_id IN (SELECT id FROM posts WHERE thread_id = ?)", threadID); err != nil {
		return nil, fmt.Errorf("failed to delete post actions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE thread_id = ?", threadID); err != nil {
		return nil, fmt.Errorf("failed to delete thread posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE id = ?", threadID); err != nil {
		return nil, fmt.Errorf("failed to delete thread: %w", err)
	}
	return files, nil
}

func (ds *DatabaseService) removeOrphanedFiles(ctx context.Context, files []attachment) {
	if ds.files == nil {
		return
	}
	for _, f := range files {
		var count int
		if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts WHERE image_hash = ?", f.Hash).Scan(&count); err != nil {
			ds.logger.Warn("Failed to check for duplicate images", "hash", f.Hash, "error", err)
			continue
		}
		if count > 0 {
			continue
		}
		if err := ds.files.DeleteFile(f.Path); err != nil {
			ds.logger.Warn("Failed to remove attachment", "path", f.Path, "error", err)
		}
	}
}

// --- Reviewables ---

const reviewableColumns = `id, target_post_id, target_created_by, created_by, raw, potential_spam, reviewable_by_moderator, status, created_at, updated_at`

func scanReviewable(scan func(dest ...any) error) (models.Reviewable, error) {
	var r models.Reviewable
	var createdBy, targetCreatedBy sql.NullInt64
	var updatedAt sql.NullTime
	err := scan(&r.ID, &r.TargetPostID, &targetCreatedBy, &createdBy, &r.Raw, &r.PotentialSpam, &r.ReviewableByModerator, &r.Status, &r.CreatedAt, &updatedAt)
	r.TargetCreatedBy, r.CreatedBy, r.UpdatedAt = targetCreatedBy.Int64, createdBy.Int64, updatedAt.Time
	return r, err
}

// ReviewableExists reports whether a post has a reviewable in any status.
func (ds *DatabaseService) ReviewableExists(ctx context.Context, postID int64) (bool, error) {
	var exists bool
	err := ds.DB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM reviewables WHERE target_post_id = ?)", postID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check reviewables for post %d: %w", postID, err)
	}
	return exists, nil
}

// FindReviewables lists the reviewables targeting a post.
func (ds *DatabaseService) FindReviewables(ctx context.Context, postID int64) ([]models.Reviewable, error) {
	return ds.queryReviewables(ctx, "SELECT "+reviewableColumns+" FROM reviewables WHERE target_post_id = ?", postID)
}

// ListReviewables lists reviewables by status, newest first.
func (ds *DatabaseService) ListReviewables(ctx context.Context, status string, limit int) ([]models.Reviewable, error) {
	return ds.queryReviewables(ctx, "SELECT "+reviewableColumns+" FROM reviewables WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?", status, limit)
}

func (ds *DatabaseService) queryReviewables(ctx context.Context, query string, args ...any) ([]models.Reviewable, error) {
	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviewables: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in queryReviewables", "error", err)
		}
	}()

	reviewables := []models.Reviewable{}
	for rows.Next() {
		r, err := scanReviewable(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reviewable: %w", err)
		}
		reviewables = append(reviewables, r)
	}
	return reviewables, rows.Err()
}

// GetReviewable fetches a reviewable by id.
func (ds *DatabaseService) GetReviewable(ctx context.Context, id int64) (*models.Reviewable, error) {
	r, err := scanReviewable(ds.DB.QueryRowContext(ctx, "SELECT "+reviewableColumns+" FROM reviewables WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reviewable %d: %w", id, err)
	}
	return &r, nil
}

// CreateReviewable queues a post for review. It reports false, without
// error, when the post already has a reviewable.
func (ds *DatabaseService) CreateReviewable(ctx context.Context, r *models.Reviewable) (bool, error) {
	now := utils.GetSQLTime()
	if r.Status == "" {
		r.Status = models.ReviewableStatusPending
	}
	res, err := ds.DB.ExecContext(ctx, `INSERT INTO reviewables (target_post_id, target_created_by, created_by, raw, potential_spam, reviewable_by_moderator, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(target_post_id) DO NOTHING`,
		r.TargetPostID, r.TargetCreatedBy, r.CreatedBy, r.Raw, r.PotentialSpam, r.ReviewableByModerator, r.Status, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert reviewable: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	r.ID, err = res.LastInsertId()
	r.CreatedAt, r.UpdatedAt = now, now
	return true, err
}

// DestroyReviewables removes every reviewable targeting a post.
func (ds *DatabaseService) DestroyReviewables(ctx context.Context, postID int64) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM reviewables WHERE target_post_id = ?", postID)
	if err != nil {
		return 0, fmt.Errorf("failed to destroy reviewables for post %d: %w", postID, err)
	}
	return res.RowsAffected()
}

// ResolveReviewable records a moderator decision on a pending reviewable.
// Approving shows the post again; rejecting deletes it.
func (ds *DatabaseService) ResolveReviewable(ctx context.Context, id int64, approve bool, modHash string) (*models.Reviewable, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer ds.rollback(tx, "ResolveReviewable")

	r, err := scanReviewable(tx.QueryRowContext(ctx, "SELECT "+reviewableColumns+" FROM reviewables WHERE id = ?", id).Scan)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reviewable %d: %w", id, err)
	}
	if r.Status != models.ReviewableStatusPending {
		return nil, ErrReviewableClosed
	}

	now := utils.GetSQLTime()
	var files []attachment
	action := "reviewable_approve"
	r.Status = models.ReviewableStatusApproved
	if approve {
		if _, err := tx.ExecContext(ctx, `UPDATE posts SET hidden = 0, hidden_reason = NULL, hidden_message = NULL, hidden_at = NULL, updated_at = ? WHERE id = ?`, now, r.TargetPostID); err != nil {
			return nil, fmt.Errorf("failed to show post: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE threads SET visible = 1 WHERE id = (SELECT thread_id FROM posts WHERE id = ?)
			AND (SELECT MIN(id) FROM posts WHERE thread_id = threads.id) = ?`, r.TargetPostID, r.TargetPostID); err != nil {
			return nil, fmt.Errorf("failed to show thread: %w", err)
		}
	} else {
		action = "reviewable_reject"
		r.Status = models.ReviewableStatusRejected
		files, err = deletePostTx(ctx, tx, r.TargetPostID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE reviewables SET status = ?, updated_at = ? WHERE id = ?", r.Status, now, id); err != nil {
		return nil, fmt.Errorf("failed to update reviewable status: %w", err)
	}
	if err := logModAction(ctx, tx, 0, modHash, action, r.TargetPostID, fmt.Sprintf("reviewable %d", id)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	ds.removeOrphanedFiles(ctx, files)
	r.UpdatedAt = now
	return &r, nil
}

// --- Post actions & notifications ---

// CreatePostAction records a flag or moderator action. It reports false when
// the same user already recorded the same action on the post.
func (ds *DatabaseService) CreatePostAction(ctx context.Context, a *models.PostAction) (bool, error) {
	now := utils.GetSQLTime()
	res, err := ds.DB.ExecContext(ctx, `INSERT OR IGNORE INTO post_actions (post_id, user_id, action_type, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.PostID, a.UserID, a.ActionType, a.Message, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert post action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	a.ID, err = res.LastInsertId()
	a.CreatedAt = now
	return true, err
}

// DeletePostActions removes all actions of a type from a post.
func (ds *DatabaseService) DeletePostActions(ctx context.Context, postID int64, actionType string) (int64, error) {
	res, err := ds.DB.ExecContext(ctx, "DELETE FROM post_actions WHERE post_id = ? AND action_type = ?", postID, actionType)
	if err != nil {
		return 0, fmt.Errorf("failed to delete post actions: %w", err)
	}
	return res.RowsAffected()
}

// ListPostActions lists the actions recorded on a post.
func (ds *DatabaseService) ListPostActions(ctx context.Context, postID int64) ([]models.PostAction, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, post_id, user_id, action_type, message, created_at FROM post_actions WHERE post_id = ? ORDER BY id", postID)
	if err != nil {
		return nil, fmt.Errorf("failed to query post actions: %w", err)
	}
	defer rows.Close()

	actions := []models.PostAction{}
	for rows.Next() {
		var a models.PostAction
		if err := rows.Scan(&a.ID, &a.PostID, &a.UserID, &a.ActionType, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// CreateNotification delivers a templated notification to a user.
func (ds *DatabaseService) CreateNotification(ctx context.Context, n *models.Notification) error {
	params, err := json.Marshal(n.Params)
	if err != nil {
		return fmt.Errorf("failed to encode notification params: %w", err)
	}
	now := utils.GetSQLTime()
	res, err := ds.DB.ExecContext(ctx, "INSERT INTO notifications (user_id, template, params, created_at) VALUES (?, ?, ?, ?)", n.UserID, n.Template, string(params), now)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	n.ID, err = res.LastInsertId()
	n.CreatedAt = now
	return err
}

// ListNotifications returns a user's notifications, newest first.
func (ds *DatabaseService) ListNotifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, user_id, template, params, read, created_at FROM notifications WHERE user_id = ? ORDER BY id DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var params string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Template, &params, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &n.Params); err != nil {
			ds.logger.Warn("Failed to decode notification params", "notification_id", n.ID, "error", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// --- Mod log ---

// LogModAction records an action taken by an account, such as the moderation bot.
func (ds *DatabaseService) LogModAction(ctx context.Context, actorID int64, action string, targetID int64, details string) error {
	return logModAction(ctx, ds.DB, actorID, "", action, targetID, details)
}

// LogModeratorAction records an action taken by a LAN moderator identified by IP hash.
func (ds *DatabaseService) LogModeratorAction(ctx context.Context, modHash, action string, targetID int64, details string) error {
	return logModAction(ctx, ds.DB, 0, modHash, action, targetID, details)
}

func logModAction(ctx context.Context, ex execer, actorID int64, modHash, action string, targetID int64, details string) error {
	target := sql.NullInt64{Int64: targetID, Valid: targetID > 0}
	_, err := ex.ExecContext(ctx, "INSERT INTO mod_actions (timestamp, actor_id, moderator_hash, action, target_id, details) VALUES (?, ?, ?, ?, ?, ?)",
		utils.GetSQLTime(), actorID, modHash, action, target, details)
	if err != nil {
		return fmt.Errorf("failed to execute mod action log: %w", err)
	}
	return nil
}

// ListModActions returns the most recent mod log entries, optionally filtered by action prefix.
func (ds *DatabaseService) ListModActions(ctx context.Context, actionPrefix string, limit int) ([]models.ModAction, error) {
	rows, err := ds.DB.QueryContext(ctx, `SELECT id, timestamp, actor_id, moderator_hash, action, target_id, details FROM mod_actions
		WHERE action LIKE ? ESCAPE '\' ORDER BY id DESC LIMIT ?`, escapeLike(actionPrefix)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query mod log: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListModActions", "error", err)
		}
	}()

	actions := []models.ModAction{}
	for rows.Next() {
		var a models.ModAction
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.ActorID, &a.ModeratorHash, &a.Action, &a.TargetID, &a.Details); err != nil {
			return nil, fmt.Errorf("failed to scan mod action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// --- Internal Helpers ---

func (ds *DatabaseService) rollback(tx *sql.Tx, op string) {
	if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
		ds.logger.Error("Failed to rollback transaction", "op", op, "error", rerr)
	}
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
