// modgate/models/models.go
package models

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when a lookup matches no rows.
var ErrNotFound = errors.New("not found")

// --- Core Data Models ---

const (
	ArchetypeRegular        = "regular"
	ArchetypePrivateMessage = "private_message"
)

type Category struct {
	ID        int64
	Name      string
	SortOrder int
}

type Thread struct {
	ID         int64
	CategoryID int64
	UserID     int64
	Title      string
	Archetype  string
	Visible    bool
	DeletedAt  sql.NullTime
	Bump       time.Time
	ReplyCount int
	CreatedAt  time.Time
}

// Hidden reasons stored on posts.hidden_reason.
const (
	HiddenReasonModeratorAction = "moderator_action"
	HiddenReasonQueuedForReview = "queued_for_review"
)

type Post struct {
	ID            int64
	ThreadID      int64
	UserID        int64
	PostNumber    int
	Raw           string
	ImagePath     string
	ThumbnailPath sql.NullString
	ImageHash     string
	Hidden        bool
	HiddenReason  sql.NullString
	HiddenMessage sql.NullString
	HiddenAt      sql.NullTime
	EditCount     int
	IPHash        string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Joined from the owning thread and author.
	IsOp           bool
	TopicTitle     string
	TopicVisible   bool
	TopicTrashed   bool
	Archetype      string
	CategoryID     int64
	AuthorGroupIDs []int64
}

// IsPrivateMessage reports whether the post lives in a private message topic.
func (p *Post) IsPrivateMessage() bool {
	return p.Archetype == ArchetypePrivateMessage
}

// --- Accounts ---

// Email levels for users.email_messages_level.
const (
	EmailLevelAlways = 0
	EmailLevelAway   = 1
	EmailLevelNever  = 2
)

type User struct {
	ID           int64
	Username     string
	Name         string
	Email        string
	PasswordHash string
	Active       bool
	Approved     bool
	Admin        bool
	TrustLevel   int
	EmailLevel   int
	AvatarURL    string
	CreatedAt    time.Time
	LastSeenAt   time.Time
	GroupIDs     []int64
}

// --- Moderation & System Models ---

const (
	ReviewableStatusPending  = "pending"
	ReviewableStatusApproved = "approved"
	ReviewableStatusRejected = "rejected"
)

// Reviewable is a queued post awaiting a moderator decision.
type Reviewable struct {
	ID                    int64
	TargetPostID          int64
	TargetCreatedBy       int64
	CreatedBy             int64
	Raw                   string
	PotentialSpam         bool
	ReviewableByModerator bool
	Status                string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Post action types.
const (
	PostActionInappropriate   = "inappropriate"
	PostActionModeratorAction = "moderator_action"
)

// PostAction is a flag or moderator action recorded against a post.
type PostAction struct {
	ID         int64
	PostID     int64
	UserID     int64
	ActionType string
	Message    string
	CreatedAt  time.Time
}

// Notification is a system message delivered to a user's inbox.
type Notification struct {
	ID        int64
	UserID    int64
	Template  string
	Params    map[string]string
	Read      bool
	CreatedAt time.Time
}

// ModAction is a mod log entry. ActorID is set for account actions and
// ModeratorHash for LAN moderators acting by IP.
type ModAction struct {
	ID            int64
	Timestamp     time.Time
	ActorID       int64
	ModeratorHash string
	Action        string
	TargetID      sql.NullInt64
	Details       sql.NullString
}

// StorageService saves and removes files such as attachments and archives.
type StorageService interface {
	SaveFile(filename string, data []byte, contentType string) (string, error)
	DeleteFile(path string) error
}
