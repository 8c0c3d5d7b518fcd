package web

import (
	"net/http"
	"strings"

	"snapgram/internal/domain"

	"github.com/go-chi/chi/v5"
)

// home renders recent posts and top creators.
func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	posts, err := s.queries.RecentPosts(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	creators, err := s.queries.Users(ctx, s.opts.UsersLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"posts":       postViews(posts, me),
		"topCreators": creators,
	})
}

// explore renders search results for ?q= or the loaded feed pages.
func (s *Server) explore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if term := strings.TrimSpace(r.URL.Query().Get("q")); term != "" {
		posts, err := s.queries.SearchPosts(ctx, term)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"searchTerm":    term,
			"searchResults": postViews(posts, me),
		})
		return
	}

	feed := s.queries.Feed()
	pages, err := feed.Get(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"posts":       postViews(pages.Items(), me),
		"hasNextPage": feed.HasNextPage(),
	})
}

// exploreNext loads the next feed page.
func (s *Server) exploreNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	feed := s.queries.Feed()
	pages, fetched, err := feed.FetchNextPage(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"posts":       postViews(pages.Items(), me),
		"fetched":     fetched,
		"hasNextPage": feed.HasNextPage(),
	})
}

// saved renders the current user's saved posts, newest save first.
func (s *Server) saved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entries, err := s.queries.SavedPosts(ctx, me.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	posts := make([]domain.Post, 0, len(entries))
	for _, e := range entries {
		if e.Post != nil {
			posts = append(posts, *e.Post)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"posts": postViews(posts, me)})
}

// postDetails renders a post and more posts by its creator.
func (s *Server) postDetails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	post, err := s.queries.PostByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	byCreator, err := s.queries.UserPosts(ctx, post.Creator.ID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	related := make([]domain.Post, 0, len(byCreator))
	for _, p := range byCreator {
		if p.ID != post.ID {
			related = append(related, p)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"post":    postView(post, me),
		"related": postViews(related, me),
	})
}

// createPost handles the multipart create form.
func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	snap := snapshotFrom(r.Context())
	post, err := s.queries.CreatePost(r.Context(), domain.NewPost{
		UserID:   snap.UserID(),
		Caption:  r.FormValue("caption"),
		Location: r.FormValue("location"),
		Tags:     r.FormValue("tags"),
		File:     file,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"post":     postView(post, snap.User),
		"redirect": "/",
	})
}

// ownedPost loads the post named in the path and checks that the current
// user created it.
func (s *Server) ownedPost(r *http.Request, op string) (domain.Post, error) {
	post, err := s.queries.PostByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return domain.Post{}, err
	}
	if !domain.IsOwner(snapshotFrom(r.Context()).UserID(), post.Creator.ID) {
		return domain.Post{}, notOwner(op)
	}
	return post, nil
}

func (s *Server) updatePostView(w http.ResponseWriter, r *http.Request) {
	post, err := s.ownedPost(r, "updatePost")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"post": post,
		"tags": domain.JoinTags(post.Tags),
	})
}

// updatePost handles the multipart edit form. Without a new file the post
// keeps its image.
func (s *Server) updatePost(w http.ResponseWriter, r *http.Request) {
	post, err := s.ownedPost(r, "updatePost")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		s.respondError(w, r, err)
		return
	}
	file, err := formFile(r, "file")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	updated, err := s.queries.UpdatePost(r.Context(), domain.UpdatePost{
		PostID:   post.ID,
		Caption:  r.FormValue("caption"),
		Location: r.FormValue("location"),
		Tags:     r.FormValue("tags"),
		ImageID:  post.ImageID,
		ImageURL: post.ImageURL,
		File:     file,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"post":     postView(updated, snapshotFrom(r.Context()).User),
		"redirect": "/posts/" + updated.ID,
	})
}

func (s *Server) deletePost(w http.ResponseWriter, r *http.Request) {
	post, err := s.ownedPost(r, "deletePost")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.queries.DeletePost(r.Context(), post.ID, post.ImageID); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"redirect": "/"})
}

// likePost toggles the current user's like.
func (s *Server) likePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	post, err := s.queries.ToggleLike(ctx, snapshotFrom(ctx).UserID(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"post": postView(post, me)})
}

// savePost toggles the saved state of the post.
func (s *Server) savePost(w http.ResponseWriter, r *http.Request) {
	saved, err := s.queries.ToggleSave(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"saved": saved})
}
