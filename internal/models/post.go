package models

import "time"

// PostStatus is the lifecycle of the post itself.
type PostStatus string

const (
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPublished PostStatus = "published"
	PostStatusCancelled PostStatus = "cancelled"
)

// PostState is the lifecycle of the scheduling workflow. It is tracked apart
// from PostStatus because a post can be reminded without being auto-published.
type PostState string

const (
	PostStatePending   PostState = "pending"
	PostStateReminded  PostState = "reminded"
	PostStatePublished PostState = "published"
	PostStateCancelled PostState = "cancelled"
)

var allStates = []PostState{PostStatePending, PostStateReminded, PostStatePublished, PostStateCancelled}

// IsTerminal reports whether no further transition is allowed.
func (s PostState) IsTerminal() bool {
	return s == PostStatePublished || s == PostStateCancelled
}

// CanAdvanceTo reports whether next is a forward move from s.
//
//	pending  -> reminded | published | cancelled
//	reminded -> published | cancelled
func (s PostState) CanAdvanceTo(next PostState) bool {
	switch s {
	case PostStatePending:
		return next == PostStateReminded || next == PostStatePublished || next == PostStateCancelled
	case PostStateReminded:
		return next == PostStatePublished || next == PostStateCancelled
	}
	return false
}

// StatesAdvancingTo lists the states from which next is reachable. Storage
// uses it as the precondition of each transition.
func StatesAdvancingTo(next PostState) []PostState {
	var from []PostState
	for _, s := range allStates {
		if s.CanAdvanceTo(next) {
			from = append(from, s)
		}
	}
	return from
}

// ActiveStates lists the non-terminal states.
func ActiveStates() []PostState {
	var active []PostState
	for _, s := range allStates {
		if !s.IsTerminal() {
			active = append(active, s)
		}
	}
	return active
}

// PostContent is the opaque payload: text plus an optional Telegram photo file_id.
type PostContent struct {
	Text        string `gorm:"type:text"`
	PhotoFileID string `gorm:"size:255"`
}

// IsEmpty reports whether there is nothing to send.
func (c PostContent) IsEmpty() bool {
	return c.Text == "" && c.PhotoFileID == ""
}

// HasPhoto reports whether the content is sent as a photo with caption.
func (c PostContent) HasPhoto() bool {
	return c.PhotoFileID != ""
}

// Post represents a scheduled (or already published/cancelled) post.
type Post struct {
	ID        string `gorm:"primaryKey;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID  int64       `gorm:"not null;index:idx_posts_user_status,priority:1"`
	ChatID  int64       `gorm:"not null"`
	Content PostContent `gorm:"embedded;embeddedPrefix:content_"`

	Status PostStatus `gorm:"size:16;not null;index:idx_posts_user_status,priority:2"`
	State  PostState  `gorm:"size:16;not null"`

	PublishAt    time.Time     `gorm:"not null;index"`
	RemindAt     time.Time     `gorm:"not null"`
	RemindOffset time.Duration `gorm:"not null"`
	AutoPublish  bool          `gorm:"not null;default:false"`

	// scheduler handles; nil once consumed or cancelled
	RemindJobID  *string `gorm:"size:64"`
	PublishJobID *string `gorm:"size:64"`
}

// IsActive reports whether jobs may still legitimately fire for this post.
func (p *Post) IsActive() bool {
	return p.Status == PostStatusScheduled && !p.State.IsTerminal()
}
