package remote

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"classifieds/internal/cards/application"
	"classifieds/internal/cards/domain"
)

// ImageClient talks to the image service.
type ImageClient struct {
	client *Client
}

// NewImageClient creates an ImageClient over client.
func NewImageClient(client *Client) *ImageClient {
	return &ImageClient{client: client}
}

// StoreImages uploads files as one multipart request. The service rejects the
// upload with 400 when currentCount plus the new files exceeds its limit.
func (c *ImageClient) StoreImages(ctx context.Context, token string, files []application.Upload, currentCount int) ([]domain.ImageID, error) {
	body, contentType, err := multipartBody(files, currentCount)
	if err != nil {
		return nil, err
	}

	var ids []domain.ImageID
	err = c.client.Do(ctx, Call{
		Operation:   "store_images",
		Method:      http.MethodPost,
		Path:        "/image/addCardImages",
		Token:       token,
		Body:        body,
		ContentType: contentType,
	}, &ids)

	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusBadRequest {
		return nil, domain.ErrImageLimitExceeded
	}
	return ids, err
}

func multipartBody(files []application.Upload, currentCount int) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+escapeQuotes(f.Name)+`"`)
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("currentCardImagesCount", strconv.Itoa(currentCount)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// ImageMetadata fetches bucket and object names for ids.
func (c *ImageClient) ImageMetadata(ctx context.Context, token string, ids []domain.ImageID) ([]domain.ImageMeta, error) {
	if len(ids) == 0 {
		return []domain.ImageMeta{}, nil
	}
	var metas []domain.ImageMeta
	err := c.client.Do(ctx, Call{
		Operation: "image_metadata",
		Method:    http.MethodGet,
		Path:      "/image/get",
		Query:     url.Values{"imagesId": {domain.JoinImageIDs(ids)}},
		Token:     token,
	}, &metas)
	return metas, err
}

// MoveToTrash moves ids into the trash bucket.
func (c *ImageClient) MoveToTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	return c.move(ctx, token, ids, true)
}

// RestoreFromTrash moves ids back into the active bucket.
func (c *ImageClient) RestoreFromTrash(ctx context.Context, token string, ids []domain.ImageID) error {
	return c.move(ctx, token, ids, false)
}

func (c *ImageClient) move(ctx context.Context, token string, ids []domain.ImageID, toTrash bool) error {
	op := "restore_images"
	if toTrash {
		op = "trash_images"
	}
	return c.client.Do(ctx, Call{
		Operation: op,
		Method:    http.MethodPost,
		Path:      "/image/move",
		Query: url.Values{
			"ids":     {domain.JoinImageIDs(ids)},
			"toTrash": {strconv.FormatBool(toTrash)},
		},
		Token:       token,
		ContentType: "application/json",
	}, nil)
}

// DeletePermanently removes ids from object storage.
func (c *ImageClient) DeletePermanently(ctx context.Context, token string, ids []domain.ImageID) error {
	return c.client.Do(ctx, Call{
		Operation: "delete_images",
		Method:    http.MethodDelete,
		Path:      "/image/minio/del",
		Query:     url.Values{"ids": {domain.JoinImageIDs(ids)}},
		Token:     token,
	}, nil)
}

// DeleteOne removes a single image record and its object.
func (c *ImageClient) DeleteOne(ctx context.Context, token string, id domain.ImageID) error {
	return c.client.Do(ctx, Call{
		Operation: "delete_image",
		Method:    http.MethodDelete,
		Path:      "/image/del/" + id.String(),
		Token:     token,
	}, nil)
}

func escapeQuotes(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ application.ImageService = (*ImageClient)(nil)
