package web

import (
	"net/http"

	"snapgram/internal/domain"
	"snapgram/internal/session"
)

type sessionResponse struct {
	State    string              `json:"state"`
	User     *domain.CurrentUser `json:"user,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
}

func sessionBody(s session.Snapshot, redirect string) sessionResponse {
	resp := sessionResponse{State: s.State.String(), Redirect: redirect}
	if s.IsAuthenticated() {
		u := s.User
		resp.User = &u
	}
	return resp
}

func (s *Server) signInView(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"view": "sign-in"})
}

func (s *Server) signUpView(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"view": "sign-up"})
}

// signIn handles POST /sign-in.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var creds domain.Credentials
	if err := decodeJSON(r, &creds); err != nil {
		s.respondError(w, r, err)
		return
	}
	snap, err := s.sessions.SignIn(r.Context(), creds)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionBody(snap, session.RouteHome))
}

// signUp handles POST /sign-up.
func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var u domain.NewUser
	if err := decodeJSON(r, &u); err != nil {
		s.respondError(w, r, err)
		return
	}
	snap, err := s.sessions.SignUp(r.Context(), u)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, sessionBody(snap, session.RouteHome))
}

// signOut handles POST /sign-out. Local state is cleared even when the
// remote session could not be deleted.
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sessions.SignOut(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sessionBody(snap, session.RouteSignIn))
}
