package domain

import "time"

// SavedPostEntry joins a user and a post. Its existence means "saved".
type SavedPostEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PostID    string    `json:"postId"`
	Post      *Post     `json:"post,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
