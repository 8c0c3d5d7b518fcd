package queries

import (
	"snapgram/internal/query"
)

// Query names. Each is the first part of its cache key.
const (
	NameCurrentUser   = "getCurrentUser"
	NameUsers         = "getUsers"
	NameUserByID      = "getUserById"
	NameUserPosts     = "getUserPosts"
	NamePostByID      = "getPostById"
	NameRecentPosts   = "getRecentPosts"
	NameInfinitePosts = "getInfinitePosts"
	NameSearchPosts   = "searchPosts"
	NameSavedPosts    = "getCurrentUserSavedPosts"
)

// Cache keys.

func CurrentUserKey() query.Key { return query.K(NameCurrentUser) }

func UsersKey(limit int) query.Key { return query.K(NameUsers, limit) }

func UserByIDKey(id string) query.Key { return query.K(NameUserByID, id) }

func UserPostsKey(userID string) query.Key { return query.K(NameUserPosts, userID) }

func PostByIDKey(id string) query.Key { return query.K(NamePostByID, id) }

func RecentPostsKey() query.Key { return query.K(NameRecentPosts) }

func InfinitePostsKey() query.Key { return query.K(NameInfinitePosts) }

func SearchPostsKey(term string) query.Key { return query.K(NameSearchPosts, term) }

func SavedPostsKey(userID string) query.Key { return query.K(NameSavedPosts, userID) }

// ============================================================================
// INVALIDATION MAP
// ============================================================================

// Each mutation invalidates every key whose cached data may embed what it
// wrote. Keys without parameters act as prefixes over all their variants.

func createPostInvalidates(creatorID string) []query.Key {
	return []query.Key{RecentPostsKey(), InfinitePostsKey(), UserPostsKey(creatorID), query.K(NameSearchPosts)}
}

func updatePostInvalidates(postID string) []query.Key {
	return []query.Key{PostByIDKey(postID), RecentPostsKey(), InfinitePostsKey(), query.K(NameUserPosts), query.K(NameSearchPosts)}
}

func deletePostInvalidates(postID string) []query.Key {
	return []query.Key{
		RecentPostsKey(), InfinitePostsKey(), PostByIDKey(postID),
		query.K(NameSavedPosts), CurrentUserKey(), query.K(NameUserPosts), query.K(NameSearchPosts),
	}
}

func likePostInvalidates(postID string) []query.Key {
	return []query.Key{PostByIDKey(postID), RecentPostsKey(), InfinitePostsKey(), CurrentUserKey()}
}

func savePostInvalidates() []query.Key {
	return []query.Key{CurrentUserKey(), RecentPostsKey(), query.K(NameSavedPosts)}
}

func updateUserInvalidates(userID string) []query.Key {
	return []query.Key{UserByIDKey(userID), CurrentUserKey(), query.K(NameUsers)}
}
