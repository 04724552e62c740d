package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/threadflow/internal/models"
	"github.com/maheshrc27/threadflow/internal/repository"
)

// memPosts is an in-memory PostRepository.
type memPosts struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Post
}

func newMemPosts() *memPosts {
	return &memPosts{rows: make(map[int64]*models.Post)}
}

func (m *memPosts) add(posts ...*models.Post) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range posts {
		m.nextID++
		p.ID = m.nextID
		if p.Status == "" {
			p.Status = models.PostStatusDraft
		}
		cp := *p
		m.rows[p.ID] = &cp
	}
}

func (m *memPosts) thread(threadID string) []*models.Post {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threadLocked(threadID)
}

func (m *memPosts) threadLocked(threadID string) []*models.Post {
	var out []*models.Post
	for _, p := range m.rows {
		if p.ThreadID == threadID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *memPosts) CreateThread(ctx context.Context, posts []*models.Post) error {
	m.add(posts...)
	return nil
}

func (m *memPosts) ReplaceThread(ctx context.Context, threadID string, posts []*models.Post) error {
	m.mu.Lock()
	for id, p := range m.rows {
		if p.ThreadID == threadID {
			delete(m.rows, id)
		}
	}
	m.mu.Unlock()
	for _, p := range posts {
		p.ThreadID = threadID
	}
	m.add(posts...)
	return nil
}

func (m *memPosts) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memPosts) ListByThreadID(ctx context.Context, threadID string) ([]*models.Post, error) {
	return m.thread(threadID), nil
}

func (m *memPosts) ListByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Post
	for _, p := range m.rows {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPosts) ListQueuedSlots(ctx context.Context, accountID, fromMs int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for _, p := range m.rows {
		if p.AccountID == accountID && p.Position == 0 && p.Status == models.PostStatusQueued && p.ScheduledAt >= fromMs {
			out = append(out, p.ScheduledAt)
		}
	}
	return out, nil
}

func (m *memPosts) ListStaleScheduled(ctx context.Context, beforeMs int64, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Post
	for _, p := range m.rows {
		if p.Position == 0 && p.Status.Pending() && p.ScheduledAt > 0 && p.ScheduledAt < beforeMs {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPosts) ListStuckPublishing(ctx context.Context, before time.Time, limit int) ([]*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Post
	for _, p := range m.rows {
		if p.Status == models.PostStatusPublishing && p.UpdatedAt.Before(before) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPosts) update(threadID string, fn func(p *models.Post)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.ThreadID == threadID {
			fn(p)
		}
	}
}

func (m *memPosts) SetSchedule(ctx context.Context, threadID string, status models.PostStatus, scheduledAt int64) error {
	m.update(threadID, func(p *models.Post) {
		if p.Status != models.PostStatusPublished {
			p.Status = status
			p.ScheduledAt = scheduledAt
			p.ErrorMessage = ""
		}
	})
	return nil
}

func (m *memPosts) SetJobID(ctx context.Context, threadID, jobID string) error {
	m.update(threadID, func(p *models.Post) {
		if p.Position == 0 {
			p.JobID = jobID
		}
	})
	return nil
}

func (m *memPosts) ClaimForPublishing(ctx context.Context, threadID string) (int64, error) {
	var n int64
	m.update(threadID, func(p *models.Post) {
		if p.Status.Pending() {
			p.Status = models.PostStatusPublishing
			n++
		}
	})
	return n, nil
}

func (m *memPosts) MarkPublished(ctx context.Context, id int64, externalID, replyToID string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.rows[id]
	p.Status = models.PostStatusPublished
	p.ExternalPostID = externalID
	p.ReplyToExternalID = replyToID
	p.PublishedAt = &publishedAt
	return nil
}

func (m *memPosts) MarkFailed(ctx context.Context, id int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = models.PostStatusFailed
	m.rows[id].ErrorMessage = message
	return nil
}

func (m *memPosts) FailUnpublished(ctx context.Context, threadID, message string) error {
	m.update(threadID, func(p *models.Post) {
		if p.Status != models.PostStatusPublished {
			p.Status = models.PostStatusFailed
			p.ErrorMessage = message
		}
	})
	return nil
}

func (m *memPosts) ResetAfter(ctx context.Context, threadID string, position int) error {
	m.update(threadID, func(p *models.Post) {
		if p.Position > position && p.Status != models.PostStatusPublished {
			p.Status = models.PostStatusDraft
			p.ScheduledAt = 0
		}
	})
	return nil
}

func (m *memPosts) SetVideoStatus(ctx context.Context, id int64, status models.VideoStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[id]; ok {
		p.VideoStatus = status
		p.ErrorMessage = message
	}
	return nil
}

func (m *memPosts) AppendMedia(ctx context.Context, id int64, item models.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Media = append(m.rows[id].Media, item)
	return nil
}

func (m *memPosts) DeleteByThreadID(ctx context.Context, threadID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.rows {
		if p.ThreadID == threadID && p.Status != models.PostStatusPublished {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []*models.PostingHistory
}

func (m *memHistory) Create(ctx context.Context, ph *models.PostingHistory) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, ph)
	return int64(len(m.rows)), nil
}

func (m *memHistory) ListByPostIDs(ctx context.Context, postIDs []int64) ([]*models.PostingHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(postIDs))
	for _, id := range postIDs {
		want[id] = true
	}
	var out []*models.PostingHistory
	for _, ph := range m.rows {
		if want[ph.PostID] {
			out = append(out, ph)
		}
	}
	return out, nil
}

type memVideoJobs struct {
	mu   sync.Mutex
	rows map[string]*models.VideoJob
	seen []models.VideoStatus
}

func newMemVideoJobs() *memVideoJobs {
	return &memVideoJobs{rows: make(map[string]*models.VideoJob)}
}

func (m *memVideoJobs) Create(ctx context.Context, job *models.VideoJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.rows[job.ID] = &cp
	m.seen = append(m.seen, job.Status)
	return nil
}

func (m *memVideoJobs) GetByID(ctx context.Context, id string) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memVideoJobs) UpdateStatus(ctx context.Context, id string, status models.VideoStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = status
	m.rows[id].ErrorMessage = message
	m.seen = append(m.seen, status)
	return nil
}

func (m *memVideoJobs) Complete(ctx context.Context, id string, media models.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[id].Status = models.VideoStatusComplete
	m.rows[id].Media = &media
	m.seen = append(m.seen, models.VideoStatusComplete)
	return nil
}

func (m *memVideoJobs) reached(status models.VideoStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seen {
		if s == status {
			return true
		}
	}
	return false
}

type memSettings struct {
	rows map[int64]*models.Settings
}

func (m *memSettings) GetByUserID(ctx context.Context, userID int64) (*models.Settings, error) {
	if s, ok := m.rows[userID]; ok {
		return s, nil
	}
	return nil, nil
}

func (m *memSettings) Upsert(ctx context.Context, s *models.Settings) error {
	if m.rows == nil {
		m.rows = make(map[int64]*models.Settings)
	}
	m.rows[s.UserID] = s
	return nil
}

type memAccounts struct {
	rows map[int64]*models.SocialAccount
}

func newMemAccounts(accs ...*models.SocialAccount) *memAccounts {
	m := &memAccounts{rows: make(map[int64]*models.SocialAccount)}
	for _, a := range accs {
		m.rows[a.ID] = a
	}
	return m
}

func (m *memAccounts) Create(ctx context.Context, sa *models.SocialAccount) (int64, error) {
	sa.ID = int64(len(m.rows) + 1)
	m.rows[sa.ID] = sa
	return sa.ID, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id int64) (*models.SocialAccount, error) {
	return m.rows[id], nil
}

func (m *memAccounts) ListByUserID(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	var out []*models.SocialAccount
	for _, a := range m.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memAccounts) SetToken(ctx context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error {
	cur := m.rows[id]
	if cur.AccessToken != oldAccessToken {
		return errors.New("token changed")
	}
	cur.AccessToken = sa.AccessToken
	cur.RefreshToken = sa.RefreshToken
	cur.TokenExpiresAt = sa.TokenExpiresAt
	return nil
}

func (m *memAccounts) SetStatus(ctx context.Context, id int64, status string) error {
	m.rows[id].Status = status
	return nil
}

type memActive struct {
	rows map[string]repository.ActiveAccount
	err  error
}

func (m *memActive) Get(ctx context.Context, email string) (*repository.ActiveAccount, error) {
	if m.err != nil {
		return nil, m.err
	}
	a, ok := m.rows[email]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memActive) Set(ctx context.Context, email string, a repository.ActiveAccount) error {
	if m.rows == nil {
		m.rows = make(map[string]repository.ActiveAccount)
	}
	m.rows[email] = a
	return nil
}

type publishCall struct {
	target    string
	payload   string
	notBefore time.Time
}

// recordingDispatcher accepts every job and remembers what it was given.
type recordingDispatcher struct {
	mu        sync.Mutex
	next      int
	published []publishCall
	canceled  []string
	err       error
}

func (d *recordingDispatcher) Publish(ctx context.Context, target string, payload []byte, notBefore time.Time) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.next++
	d.published = append(d.published, publishCall{target: target, payload: string(payload), notBefore: notBefore})
	return "job-" + strings.Repeat("x", d.next), nil
}

func (d *recordingDispatcher) Cancel(ctx context.Context, handle string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canceled = append(d.canceled, handle)
}

type postCall struct {
	text     string
	mediaIDs []string
	replyTo  string
}

// fakeSocial posts successfully unless failOn names the 1-based call that should fail.
type fakeSocial struct {
	mu        sync.Mutex
	calls     []postCall
	failOn    int
	failErr   error
	uploads   int
	mimeTypes []string
	mediaID   string
	uploadErr error
}

func (f *fakeSocial) UploadMedia(ctx context.Context, data []byte, mimeType, category string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.mimeTypes = append(f.mimeTypes, mimeType)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.mediaID, nil
}

func (f *fakeSocial) CreatePost(ctx context.Context, text string, mediaIDs []string, replyToID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postCall{text: text, mediaIDs: mediaIDs, replyTo: replyToID})
	if len(f.calls) == f.failOn {
		return "", f.failErr
	}
	return "ext-" + text, nil
}

func (f *fakeSocial) PostURL(id string) string {
	return "https://x.com/tester/status/" + id
}

type fakeFactory struct {
	client SocialClient
	err    error
}

func (f *fakeFactory) ForAccount(ctx context.Context, accountID int64) (SocialClient, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}
