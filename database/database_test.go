// modgate/database/database_test.go
package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"modgate/models"
	"modgate/utils"
)

// setupTestDB creates a new SQLite database in a temp dir for testing.
func setupTestDB(t *testing.T) *DatabaseService {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on")

	ds, err := InitDB(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

type recordingStorage struct {
	mu      sync.Mutex
	deleted []string
}

func (s *recordingStorage) SaveFile(filename string, _ []byte, _ string) (string, error) {
	return "/uploads/" + filename, nil
}

func (s *recordingStorage) DeleteFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, path)
	return nil
}

func createUser(t *testing.T, ds *DatabaseService, username string, groups ...int64) int64 {
	t.Helper()
	id, err := ds.CreateUser(context.Background(), &models.User{Username: username, Active: true, GroupIDs: groups})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return id
}

// seedTopic creates a topic with a first post and one reply.
func seedTopic(t *testing.T, ds *DatabaseService, userID int64) (threadID, opID, replyID int64) {
	t.Helper()
	ctx := context.Background()
	threadID, opID, err := ds.CreateTopic(ctx, &models.Thread{Title: "Test Thread", UserID: userID}, &models.Post{UserID: userID, Raw: "OP content", ImagePath: "/uploads/a.jpg", ImageHash: "hash-a"})
	if err != nil {
		t.Fatalf("Failed to create topic: %v", err)
	}
	replyID, err = ds.CreateReply(ctx, &models.Post{ThreadID: threadID, UserID: userID, Raw: "Reply content", ImagePath: "/uploads/b.jpg", ImageHash: "hash-b"})
	if err != nil {
		t.Fatalf("Failed to create reply: %v", err)
	}
	return threadID, opID, replyID
}

// TestInitDB checks if the database is seeded with default data correctly.
func TestInitDB(t *testing.T) {
	ds := setupTestDB(t)

	var categoryCount int
	if err := ds.DB.QueryRow("SELECT COUNT(*) FROM categories").Scan(&categoryCount); err != nil {
		t.Fatalf("Failed to query categories: %v", err)
	}
	if categoryCount == 0 {
		t.Error("Expected categories to be seeded, but count is 0")
	}
}

// TestMigrations verifies that our schema migrations run successfully.
func TestMigrations(t *testing.T) {
	ds := setupTestDB(t)

	rows, err := ds.DB.Query("SELECT edit_count FROM posts LIMIT 1")
	if err != nil {
		t.Fatalf("Could not query for new columns in 'posts' table: %v", err)
	}
	rows.Close()

	var version int
	if err := ds.DB.QueryRow("SELECT version FROM schema_migrations WHERE version = 1").Scan(&version); err != nil {
		t.Fatalf("Migration version 1 was not recorded in schema_migrations table: %v", err)
	}

	// Running migrations again is a no-op.
	if err := runMigrations(ds.DB, ds.logger); err != nil {
		t.Errorf("Expected re-running migrations to succeed, got %v", err)
	}
}

func TestPostLookups(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	author := createUser(t, ds, "alice", 3, 7)
	threadID, opID, replyID := seedTopic(t, ds, author)

	op, err := ds.GetPostUnscoped(ctx, opID)
	if err != nil {
		t.Fatalf("GetPostUnscoped failed: %v", err)
	}
	if !op.IsOp || op.TopicTitle != "Test Thread" || op.PostNumber != 1 || op.ThreadID != threadID {
		t.Errorf("Unexpected first post %+v", op)
	}
	if len(op.AuthorGroupIDs) != 2 || op.AuthorGroupIDs[0] != 3 {
		t.Errorf("Expected author groups [3 7], got %v", op.AuthorGroupIDs)
	}

	reply, err := ds.GetPostUnscoped(ctx, replyID)
	if err != nil {
		t.Fatal(err)
	}
	if reply.IsOp || reply.PostNumber != 2 {
		t.Errorf("Unexpected reply %+v", reply)
	}

	if err := ds.HidePost(ctx, replyID, models.HiddenReasonQueuedForReview, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.GetPost(ctx, replyID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected hidden post to be out of scope, got %v", err)
	}
	if p, err := ds.GetPostUnscoped(ctx, replyID); err != nil || !p.Hidden {
		t.Errorf("Expected unscoped lookup to find hidden post, got %+v %v", p, err)
	}

	if err := ds.SetTopicVisible(ctx, threadID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.GetPost(ctx, opID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected post in invisible topic to be out of scope, got %v", err)
	}
	if _, err := ds.GetPostUnscoped(ctx, 9999); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestHideAndUnhide(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	_, opID, _ := seedTopic(t, ds, createUser(t, ds, "bob"))

	if err := ds.HidePost(ctx, opID, models.HiddenReasonModeratorAction, "spam"); err != nil {
		t.Fatal(err)
	}
	first, _ := ds.GetPostUnscoped(ctx, opID)
	if err := ds.HidePost(ctx, opID, models.HiddenReasonModeratorAction, "spam"); err != nil {
		t.Fatal(err)
	}
	second, _ := ds.GetPostUnscoped(ctx, opID)
	if !second.Hidden || second.HiddenMessage.String != "spam" || second.HiddenReason.String != models.HiddenReasonModeratorAction {
		t.Errorf("Unexpected hidden post %+v", second)
	}
	if !first.HiddenAt.Time.Equal(second.HiddenAt.Time) {
		t.Error("Expected hidden_at to be kept on repeated hides")
	}

	if err := ds.UnhidePost(ctx, opID); err != nil {
		t.Fatal(err)
	}
	p, _ := ds.GetPostUnscoped(ctx, opID)
	if p.Hidden || p.HiddenReason.Valid || p.HiddenAt.Valid {
		t.Errorf("Expected hidden state to be cleared, got %+v", p)
	}
	if err := ds.HidePost(ctx, 9999, models.HiddenReasonModeratorAction, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestDeletePost verifies reply and thread deletion and file cleanup.
func TestDeletePost(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	files := &recordingStorage{}
	ds.UseStorage(files)
	author := createUser(t, ds, "carol")
	threadID, opID, replyID := seedTopic(t, ds, author)

	// --- Test Case 1: Delete a reply ---
	if err := ds.DeletePost(ctx, replyID); err != nil {
		t.Fatalf("Expected no error when deleting reply, but got: %v", err)
	}
	if _, err := ds.GetPostUnscoped(ctx, replyID); !errors.Is(err, models.ErrNotFound) {
		t.Error("Expected reply to be deleted")
	}
	thread, err := ds.GetThread(ctx, threadID)
	if err != nil || thread.ReplyCount != 0 {
		t.Errorf("Expected reply count 0, got %+v %v", thread, err)
	}
	if len(files.deleted) != 1 || files.deleted[0] != "/uploads/b.jpg" {
		t.Errorf("Expected reply attachment to be removed, got %v", files.deleted)
	}

	// --- Test Case 2: Delete the first post removes the thread ---
	if _, err := ds.CreateReply(ctx, &models.Post{ThreadID: threadID, UserID: author, Raw: "another"}); err != nil {
		t.Fatal(err)
	}
	if err := ds.DeletePost(ctx, opID); err != nil {
		t.Fatalf("Expected no error when deleting thread, got %v", err)
	}
	if _, err := ds.GetThread(ctx, threadID); !errors.Is(err, models.ErrNotFound) {
		t.Error("Expected thread to be deleted")
	}
	var count int
	ds.DB.QueryRow("SELECT COUNT(*) FROM posts WHERE thread_id = ?", threadID).Scan(&count)
	if count != 0 {
		t.Errorf("Expected all thread posts to be deleted, %d remain", count)
	}

	if err := ds.DeletePost(ctx, opID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a deleted post, got %v", err)
	}
	if _, err := ds.CreateReply(ctx, &models.Post{ThreadID: threadID, UserID: author, Raw: "late"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected reply to a deleted thread to fail, got %v", err)
	}
}

func TestDeleteTopic(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	files := &recordingStorage{}
	ds.UseStorage(files)
	threadID, opID, replyID := seedTopic(t, ds, createUser(t, ds, "dana"))

	if err := ds.DeleteTopic(ctx, threadID); err != nil {
		t.Fatalf("Expected no error when deleting topic, got %v", err)
	}
	if _, err := ds.GetThread(ctx, threadID); !errors.Is(err, models.ErrNotFound) {
		t.Error("Expected thread to be deleted")
	}
	for _, id := range []int64{opID, replyID} {
		if _, err := ds.GetPostUnscoped(ctx, id); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected post %d to be deleted", id)
		}
	}
	if len(files.deleted) != 2 {
		t.Errorf("Expected both attachments to be removed, got %v", files.deleted)
	}
	if err := ds.DeleteTopic(ctx, threadID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a deleted topic, got %v", err)
	}
}

func TestReviewables(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	author := createUser(t, ds, "dave")
	_, opID, replyID := seedTopic(t, ds, author)

	r := &models.Reviewable{TargetPostID: replyID, TargetCreatedBy: author, Raw: "Reply content", PotentialSpam: true, ReviewableByModerator: true}
	created, err := ds.CreateReviewable(ctx, r)
	if err != nil || !created || r.ID == 0 {
		t.Fatalf("Expected reviewable to be created, got %v %v", created, err)
	}
	created, err = ds.CreateReviewable(ctx, &models.Reviewable{TargetPostID: replyID})
	if err != nil || created {
		t.Errorf("Expected duplicate reviewable to be ignored, got %v %v", created, err)
	}

	exists, _ := ds.ReviewableExists(ctx, replyID)
	if !exists {
		t.Error("Expected reviewable to exist")
	}
	if exists, _ := ds.ReviewableExists(ctx, opID); exists {
		t.Error("Expected no reviewable for the first post")
	}

	pending, err := ds.ListReviewables(ctx, models.ReviewableStatusPending, 10)
	if err != nil || len(pending) != 1 || !pending[0].PotentialSpam {
		t.Errorf("Unexpected pending list %+v %v", pending, err)
	}

	// Reviewables survive their post so a later webhook can clear them.
	if err := ds.DeletePost(ctx, replyID); err != nil {
		t.Fatal(err)
	}
	found, _ := ds.FindReviewables(ctx, replyID)
	if len(found) != 1 {
		t.Errorf("Expected reviewable to outlive its post, got %d", len(found))
	}
	n, err := ds.DestroyReviewables(ctx, replyID)
	if err != nil || n != 1 {
		t.Errorf("Expected one reviewable destroyed, got %d %v", n, err)
	}
}

func TestResolveReviewable(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	author := createUser(t, ds, "erin")
	threadID, opID, replyID := seedTopic(t, ds, author)

	ds.HidePost(ctx, opID, models.HiddenReasonQueuedForReview, "")
	ds.SetTopicVisible(ctx, threadID, false)
	opReview := &models.Reviewable{TargetPostID: opID}
	ds.CreateReviewable(ctx, opReview)
	replyReview := &models.Reviewable{TargetPostID: replyID}
	ds.CreateReviewable(ctx, replyReview)

	approved, err := ds.ResolveReviewable(ctx, opReview.ID, true, "modhash")
	if err != nil || approved.Status != models.ReviewableStatusApproved {
		t.Fatalf("Expected approval, got %+v %v", approved, err)
	}
	if _, err := ds.GetPost(ctx, opID); err != nil {
		t.Errorf("Expected approved first post and topic to be visible, got %v", err)
	}
	if _, err := ds.ResolveReviewable(ctx, opReview.ID, false, "modhash"); !errors.Is(err, ErrReviewableClosed) {
		t.Errorf("Expected ErrReviewableClosed, got %v", err)
	}

	rejected, err := ds.ResolveReviewable(ctx, replyReview.ID, false, "modhash")
	if err != nil || rejected.Status != models.ReviewableStatusRejected {
		t.Fatalf("Expected rejection, got %+v %v", rejected, err)
	}
	if _, err := ds.GetPostUnscoped(ctx, replyID); !errors.Is(err, models.ErrNotFound) {
		t.Error("Expected rejected post to be deleted")
	}

	log, err := ds.ListModActions(ctx, "reviewable_", 10)
	if err != nil || len(log) != 2 || log[0].ModeratorHash != "modhash" || log[0].Action != "reviewable_reject" {
		t.Errorf("Unexpected mod log %+v %v", log, err)
	}
	if _, err := ds.ResolveReviewable(ctx, 9999, true, "modhash"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPostActions(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	author := createUser(t, ds, "frank")
	bot := createUser(t, ds, "bot")
	_, opID, _ := seedTopic(t, ds, author)

	flag := &models.PostAction{PostID: opID, UserID: bot, ActionType: models.PostActionInappropriate, Message: "Flagged"}
	if created, err := ds.CreatePostAction(ctx, flag); err != nil || !created {
		t.Fatalf("Expected flag to be created, got %v %v", created, err)
	}
	if created, err := ds.CreatePostAction(ctx, flag); err != nil || created {
		t.Errorf("Expected duplicate flag to be ignored, got %v %v", created, err)
	}
	ds.CreatePostAction(ctx, &models.PostAction{PostID: opID, UserID: bot, ActionType: models.PostActionModeratorAction})

	n, err := ds.DeletePostActions(ctx, opID, models.PostActionModeratorAction)
	if err != nil || n != 1 {
		t.Errorf("Expected one moderator action removed, got %d %v", n, err)
	}
	actions, _ := ds.ListPostActions(ctx, opID)
	if len(actions) != 1 || actions[0].ActionType != models.PostActionInappropriate {
		t.Errorf("Expected only the flag to remain, got %+v", actions)
	}
}

func TestUsersAndNotifications(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	id := createUser(t, ds, "grace", 5)

	u, err := ds.FindUserByUsername(ctx, "grace")
	if err != nil || u.ID != id || len(u.GroupIDs) != 1 || u.GroupIDs[0] != 5 {
		t.Fatalf("Unexpected user %+v %v", u, err)
	}
	if _, err := ds.FindUserByUsername(ctx, "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := ds.CreateUser(ctx, &models.User{Username: "grace"}); err == nil {
		t.Error("Expected duplicate username to fail")
	}

	err = ds.CreateNotification(ctx, &models.Notification{UserID: id, Template: "queued", Params: map[string]string{"topic_title": "Hi"}})
	if err != nil {
		t.Fatal(err)
	}
	list, err := ds.ListNotifications(ctx, id)
	if err != nil || len(list) != 1 || list[0].Params["topic_title"] != "Hi" {
		t.Errorf("Unexpected notifications %+v %v", list, err)
	}
}

func TestModLog(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()

	ds.LogModAction(ctx, 7, "webhook_hide", 12, "details")
	ds.LogModeratorAction(ctx, "abc", "backup_db", 0, "")
	ds.LogModAction(ctx, 7, "webhook_show", 12, "")

	all, err := ds.ListModActions(ctx, "", 10)
	if err != nil || len(all) != 3 {
		t.Fatalf("Expected three entries, got %d %v", len(all), err)
	}
	if all[0].Action != "webhook_show" {
		t.Errorf("Expected newest first, got %s", all[0].Action)
	}
	if all[1].TargetID.Valid {
		t.Error("Expected no target for a backup entry")
	}

	hooks, _ := ds.ListModActions(ctx, "webhook_", 10)
	if len(hooks) != 2 {
		t.Errorf("Expected two webhook entries, got %d", len(hooks))
	}
}

func TestBackupDatabase(t *testing.T) {
	ds := setupTestDB(t)
	utils.BackupDir = t.TempDir()
	defer func() { utils.BackupDir = "" }()

	path, err := ds.BackupDatabase()
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected backup file at %s: %v", path, err)
	}
}

func TestFindImageByHash(t *testing.T) {
	ds := setupTestDB(t)
	ctx := context.Background()
	seedTopic(t, ds, createUser(t, ds, "alice"))

	path, _, err := ds.FindImageByHash(ctx, "hash-b")
	if err != nil || path != "/uploads/b.jpg" {
		t.Errorf("Expected /uploads/b.jpg, got %q (%v)", path, err)
	}
	if _, _, err := ds.FindImageByHash(ctx, "hash-missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
