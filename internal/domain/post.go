package domain

import (
	"strings"
	"time"
)

// Post is the client's projection of a `posts` document with its creator
// expanded.
type Post struct {
	ID        string    `json:"id"`
	Creator   User      `json:"creator"`
	Caption   string    `json:"caption"`
	ImageID   string    `json:"imageId"`
	ImageURL  string    `json:"imageUrl"`
	Location  string    `json:"location"`
	Tags      []string  `json:"tags"`
	Likes     []string  `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LikeCount is the number shown next to the like button.
func (p Post) LikeCount() int {
	return len(p.Likes)
}

// IsLikedBy reports whether userID is in the post's likes.
func (p Post) IsLikedBy(userID string) bool {
	return IsLiked(p.Likes, userID)
}

// NewPost is the create-post payload. Tags is the raw comma separated field.
type NewPost struct {
	UserID   string `json:"userId" validate:"required"`
	Caption  string `json:"caption" validate:"min=5,max=2200"`
	Location string `json:"location" validate:"min=2,max=100"`
	Tags     string `json:"tags"`
	File     *File  `json:"-" validate:"required"`
}

// UpdatePost is the edit-post payload. When File is nil the post keeps
// ImageID and ImageURL.
type UpdatePost struct {
	PostID   string `json:"postId" validate:"required"`
	Caption  string `json:"caption" validate:"min=5,max=2200"`
	Location string `json:"location" validate:"min=2,max=100"`
	Tags     string `json:"tags"`
	ImageID  string `json:"imageId"`
	ImageURL string `json:"imageUrl"`
	File     *File  `json:"-"`
}

// ParseTags turns the free-text tag field into an ordered list: the text is
// split on commas, each tag is trimmed and empty tags are skipped.
func ParseTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if tag := strings.TrimSpace(p); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// JoinTags is the inverse used to prefill the edit form.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// IsLiked reports whether userID appears in likes.
func IsLiked(likes []string, userID string) bool {
	for _, id := range likes {
		if id == userID {
			return true
		}
	}
	return false
}

// ToggleLike returns a new like list with userID removed when present and
// appended otherwise. The input slice is never modified.
func ToggleLike(likes []string, userID string) []string {
	next := make([]string, 0, len(likes)+1)
	found := false
	for _, id := range likes {
		if id == userID {
			found = true
			continue
		}
		next = append(next, id)
	}
	if !found {
		next = append(next, userID)
	}
	return next
}
