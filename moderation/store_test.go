package moderation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"modgate/models"
)

// memStore is an in-memory Store used by the package tests.
type memStore struct {
	mu            sync.Mutex
	posts         map[int64]*models.Post
	topicVisible  map[int64]bool
	reviewables   map[int64]models.Reviewable
	actions       []models.PostAction
	notifications []models.Notification
	users         map[string]*models.User
	modLog        []string
	nextID        int64
	userCreates   int
	createUserErr error
	hideCalls     int
}

func newMemStore() *memStore {
	return &memStore{
		posts:        make(map[int64]*models.Post),
		topicVisible: make(map[int64]bool),
		reviewables:  make(map[int64]models.Reviewable),
		users:        make(map[string]*models.User),
		nextID:       100,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func (m *memStore) addPost(p models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.posts[p.ID] = &cp
	if _, ok := m.topicVisible[p.ThreadID]; !ok {
		m.topicVisible[p.ThreadID] = true
	}
}

func (m *memStore) post(id int64) (models.Post, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return models.Post{}, false
	}
	return *p, true
}

func (m *memStore) topic(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topicVisible[id]
}

func (m *memStore) ReviewableExists(_ context.Context, postID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reviewables[postID]
	return ok, nil
}

func (m *memStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createUserErr != nil {
		return 0, m.createUserErr
	}
	m.userCreates++
	m.nextID++
	cp := *u
	cp.ID = m.nextID
	m.users[u.Username] = &cp
	return cp.ID, nil
}

func (m *memStore) GetPostUnscoped(_ context.Context, postID int64) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	cp.TopicVisible = m.topicVisible[p.ThreadID]
	return &cp, nil
}

func (m *memStore) HidePost(_ context.Context, postID int64, reason, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hideCalls++
	p, ok := m.posts[postID]
	if !ok {
		return models.ErrNotFound
	}
	p.Hidden = true
	p.HiddenReason.String, p.HiddenReason.Valid = reason, true
	p.HiddenMessage.String, p.HiddenMessage.Valid = message, message != ""
	return nil
}

func (m *memStore) UnhidePost(_ context.Context, postID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return models.ErrNotFound
	}
	p.Hidden = false
	p.HiddenReason.Valid = false
	p.HiddenMessage.Valid = false
	return nil
}

func (m *memStore) SetTopicVisible(_ context.Context, threadID int64, visible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topicVisible[threadID] = visible
	return nil
}

func (m *memStore) DeletePost(_ context.Context, postID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return models.ErrNotFound
	}
	if p.IsOp {
		for id, other := range m.posts {
			if other.ThreadID == p.ThreadID {
				delete(m.posts, id)
			}
		}
		delete(m.topicVisible, p.ThreadID)
		return nil
	}
	delete(m.posts, postID)
	return nil
}

func (m *memStore) GetThread(_ context.Context, threadID int64) (*models.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	visible, ok := m.topicVisible[threadID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.Thread{ID: threadID, Visible: visible}, nil
}

func (m *memStore) DeleteTopic(_ context.Context, threadID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topicVisible[threadID]; !ok {
		return models.ErrNotFound
	}
	for id, p := range m.posts {
		if p.ThreadID == threadID {
			delete(m.posts, id)
		}
	}
	delete(m.topicVisible, threadID)
	return nil
}

func (m *memStore) FindReviewables(_ context.Context, postID int64) ([]models.Reviewable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reviewables[postID]; ok {
		return []models.Reviewable{r}, nil
	}
	return nil, nil
}

func (m *memStore) CreateReviewable(_ context.Context, r *models.Reviewable) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviewables[r.TargetPostID]; ok {
		return false, nil
	}
	m.nextID++
	cp := *r
	cp.ID = m.nextID
	cp.CreatedAt = time.Now()
	m.reviewables[r.TargetPostID] = cp
	return true, nil
}

func (m *memStore) DestroyReviewables(_ context.Context, postID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reviewables[postID]; ok {
		delete(m.reviewables, postID)
		return 1, nil
	}
	return 0, nil
}

func (m *memStore) CreatePostAction(_ context.Context, a *models.PostAction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.actions {
		if existing.PostID == a.PostID && existing.UserID == a.UserID && existing.ActionType == a.ActionType {
			return false, nil
		}
	}
	m.actions = append(m.actions, *a)
	return true, nil
}

func (m *memStore) DeletePostActions(_ context.Context, postID int64, actionType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.actions[:0]
	var removed int64
	for _, a := range m.actions {
		if a.PostID == postID && a.ActionType == actionType {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.actions = kept
	return removed, nil
}

func (m *memStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) LogModAction(_ context.Context, _ int64, action string, _ int64, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modLog = append(m.modLog, action)
	return nil
}

// memStorage records archived files.
type memStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memStorage) SaveFile(filename string, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[filename] = data
	return "/uploads/" + filename, nil
}

func (s *memStorage) DeleteFile(string) error { return nil }
