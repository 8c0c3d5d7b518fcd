package web

import (
	"errors"
	"io"
	"net/http"

	"snapgram/internal/domain"
	appErrors "snapgram/internal/errors"
)

// PostView is a post as a page shows it to the current user.
type PostView struct {
	domain.Post
	LikeCount int  `json:"likeCount"`
	Liked     bool `json:"liked"`
	Saved     bool `json:"saved"`
	IsOwner   bool `json:"isOwner"`
}

func postView(p domain.Post, me domain.CurrentUser) PostView {
	_, saved := me.SavedEntryFor(p.ID)
	return PostView{
		Post:      p,
		LikeCount: p.LikeCount(),
		Liked:     p.IsLikedBy(me.ID),
		Saved:     saved,
		IsOwner:   domain.IsOwner(me.ID, p.Creator.ID),
	}
}

func postViews(posts []domain.Post, me domain.CurrentUser) []PostView {
	out := make([]PostView, len(posts))
	for i, p := range posts {
		out[i] = postView(p, me)
	}
	return out
}

// ----------------------------------------------------------------------------
// Forms
// ----------------------------------------------------------------------------

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	err := r.ParseMultipartForm(s.opts.MaxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return appErrors.Validation("UPLOAD_TOO_LARGE", "File is too large.").
				WithField("file", "File is too large.").WithCause(err).Build()
		}
		return appErrors.Validation("FORM_INVALID", "Invalid form.").WithCause(err).Build()
	}
	return nil
}

// formFile returns the uploaded file under field, nil when none was sent.
func formFile(r *http.Request, field string) (*domain.File, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.Validation("FILE_INVALID", "Unable to read file.").
			WithField(field, "Unable to read file.").WithCause(err).Build()
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, appErrors.Validation("FILE_INVALID", "Unable to read file.").
			WithField(field, "Unable to read file.").WithCause(err).Build()
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &domain.File{Name: header.Filename, ContentType: contentType, Data: data}, nil
}

func notOwner(op string) error {
	return appErrors.Forbidden("NOT_OWNER", "You can only change what you created.").WithOp(op).Build()
}
