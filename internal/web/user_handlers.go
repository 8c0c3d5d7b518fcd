package web

import (
	"net/http"

	"snapgram/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (s *Server) allUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.queries.Users(r.Context(), s.opts.UsersLimit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

// profile renders a user with their posts. The owner also gets the ids of
// the posts they liked.
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	me, err := s.queries.CurrentUser(ctx)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	user, err := s.queries.UserByID(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	posts, err := s.queries.UserPosts(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	body := map[string]any{
		"user":    user,
		"posts":   postViews(posts, me),
		"isOwner": domain.IsOwner(me.ID, user.ID),
	}
	if domain.IsOwner(me.ID, user.ID) {
		body["likedPostIds"] = me.Liked
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) updateProfileView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !domain.IsOwner(snapshotFrom(r.Context()).UserID(), id) {
		s.respondError(w, r, notOwner("updateUser"))
		return
	}
	user, err := s.queries.UserByID(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"user": user})
}

// updateProfile handles the multipart profile form. Without a new file the
// avatar is kept.
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if !domain.IsOwner(snapshotFrom(ctx).UserID(), id) {
		s.respondError(w, r, notOwner("updateUser"))
		return
	}
	current, err := s.queries.UserByID(ctx, id)
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

	user, err := s.queries.UpdateUser(ctx, domain.UpdateUser{
		UserID:   id,
		Name:     r.FormValue("name"),
		Bio:      r.FormValue("bio"),
		ImageID:  current.ImageID,
		ImageURL: current.ImageURL,
		File:     file,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"redirect": "/profile/" + user.ID,
	})
}
