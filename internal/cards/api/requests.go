package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PageQuery holds the paging query parameters.
type PageQuery struct {
	Page  int `validate:"gte=0"`
	Limit int `validate:"gt=0,lte=100"`
}

// SearchQuery holds the search query parameters.
type SearchQuery struct {
	PageQuery
	Query string `validate:"required,max=200"`
	Since string `validate:"omitempty,datetime=2006-01-02"`
}

// CreateComplaintRequest is the JSON request body for filing a complaint.
type CreateComplaintRequest struct {
	Type     string `json:"type" validate:"required,oneofci=CARD USER"`
	TargetID int64  `json:"targetId" validate:"required,gt=0"`
	Reason   string `json:"reason" validate:"required,max=1000"`
}

// parsePage reads page and limit. Missing values default to the first page of ten.
func parsePage(r *http.Request) (domain.PageRequest, error) {
	q := PageQuery{Page: 0, Limit: 10}
	if err := intParam(r, "page", &q.Page); err != nil {
		return domain.PageRequest{}, err
	}
	if err := intParam(r, "limit", &q.Limit); err != nil {
		return domain.PageRequest{}, err
	}
	if err := validate.Struct(q); err != nil {
		return domain.PageRequest{}, fmt.Errorf("invalid paging: %w", err)
	}
	return domain.PageRequest{Page: q.Page, Limit: q.Limit}, nil
}

func parseSearch(r *http.Request) (domain.SearchQuery, domain.PageRequest, error) {
	page, err := parsePage(r)
	if err != nil {
		return domain.SearchQuery{}, domain.PageRequest{}, err
	}
	q := SearchQuery{
		PageQuery: PageQuery{Page: page.Page, Limit: page.Limit},
		Query:     r.URL.Query().Get("query"),
		Since:     r.URL.Query().Get("since"),
	}
	if err := validate.Struct(q); err != nil {
		return domain.SearchQuery{}, domain.PageRequest{}, fmt.Errorf("invalid search: %w", err)
	}

	out := domain.SearchQuery{Text: q.Query}
	if q.Since != "" {
		since, err := time.Parse(time.DateOnly, q.Since)
		if err != nil {
			return domain.SearchQuery{}, domain.PageRequest{}, err
		}
		out.Since = &since
	}
	return out, page, nil
}

func intParam(r *http.Request, name string, dst *int) error {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%s must be an integer", name)
	}
	*dst = n
	return nil
}

// cardForm is a parsed multipart card upload. Title and Text are nil when
// the field was not sent.
type cardForm struct {
	Title *string
	Text  *string
	Files []application.Upload
}

func parseCardForm(w http.ResponseWriter, r *http.Request) (cardForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return cardForm{}, fmt.Errorf("invalid form: %w", err)
	}

	var form cardForm
	if r.MultipartForm != nil {
		if v, ok := r.MultipartForm.Value["title"]; ok && len(v) > 0 {
			form.Title = &v[0]
		}
		if v, ok := r.MultipartForm.Value["text"]; ok && len(v) > 0 {
			form.Text = &v[0]
		}
		for _, fh := range r.MultipartForm.File["files"] {
			upload, err := readUpload(fh)
			if err != nil {
				return cardForm{}, err
			}
			form.Files = append(form.Files, upload)
		}
	}
	return form, nil
}

func readUpload(fh *multipart.FileHeader) (application.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return application.Upload{}, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return application.Upload{}, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return application.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
