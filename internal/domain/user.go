// Package domain holds the entities the client reads from and writes to the
// remote store, plus the small pure rules shared by every view.
package domain

import (
	"net/url"
	"strings"
	"time"
)

// User is the client's projection of a `users` document.
type User struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	ImageID   string    `json:"imageId,omitempty"`
	ImageURL  string    `json:"imageUrl"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
}

// CurrentUser is the signed-in user with the relations the views need to
// render like and save state.
type CurrentUser struct {
	User
	Saves []SavedPostEntry `json:"saves"`
	Liked []string         `json:"liked"`
}

// SavedEntryFor returns the user's saved entry for postID, if any.
func (u CurrentUser) SavedEntryFor(postID string) (SavedPostEntry, bool) {
	for _, s := range u.Saves {
		if s.PostID == postID {
			return s, true
		}
	}
	return SavedPostEntry{}, false
}

// NewUser is the sign-up payload.
type NewUser struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Username string `json:"username" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// Credentials is the sign-in payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// UpdateUser is the profile edit payload. File is optional; when nil the
// current avatar is kept.
type UpdateUser struct {
	UserID   string `json:"userId" validate:"required"`
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Bio      string `json:"bio" validate:"max=200"`
	ImageID  string `json:"imageId"`
	ImageURL string `json:"imageUrl"`
	File     *File  `json:"-"`
}

// File is an upload taken from a form.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// InitialsAvatarURL builds an avatar URL from the user's name using the
// configured initials service.
func InitialsAvatarURL(base, name string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "name=" + url.QueryEscape(strings.TrimSpace(name))
}

// IsOwner reports whether the current user created the resource. Every view
// gating an edit or delete action goes through this check.
func IsOwner(currentUserID, resourceCreatorID string) bool {
	return currentUserID != "" && currentUserID == resourceCreatorID
}
