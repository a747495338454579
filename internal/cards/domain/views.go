package domain

import "time"

// ImageMeta is the image service's description of a stored image.
type ImageMeta struct {
	ID     ImageID `json:"id"`
	Bucket string  `json:"imageBucket"`
	Name   string  `json:"imageName"`
}

// CardView is the cached projection of a card: its own fields plus resolved
// image metadata and the owner's display name.
type CardView struct {
	ID         CardID      `json:"id"`
	Title      string      `json:"title"`
	Text       string      `json:"text"`
	CreateTime time.Time   `json:"createTime"`
	Images     []ImageMeta `json:"images"`
	AuthorName string      `json:"authorName"`
}

// NewCardView assembles the projection of card.
func NewCardView(card *Card, images []ImageMeta, authorName string) CardView {
	if images == nil {
		images = []ImageMeta{}
	}
	return CardView{
		ID:         card.ID(),
		Title:      card.Title(),
		Text:       card.Text(),
		CreateTime: card.CreatedAt(),
		Images:     images,
		AuthorName: authorName,
	}
}

// CardSummary is the title/text pair handed to other services listing a user's cards.
type CardSummary struct {
	ID    CardID `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// PageRequest addresses one page of a listing. Pages are zero-based.
type PageRequest struct {
	Page  int
	Limit int
}

// Offset returns the number of rows before the page.
func (p PageRequest) Offset() int {
	return p.Page * p.Limit
}

// Valid reports whether the request addresses a real page.
func (p PageRequest) Valid() bool {
	return p.Page >= 0 && p.Limit > 0
}

// PageInfo carries the paging metadata returned next to page contents.
type PageInfo struct {
	Last             bool  `json:"last"`
	TotalPages       int   `json:"totalPages"`
	TotalElements    int64 `json:"totalElements"`
	First            bool  `json:"first"`
	NumberOfElements int   `json:"numberOfElements"`
}

// NewPageInfo derives paging metadata for a page holding n of total rows.
func NewPageInfo(req PageRequest, total int64, n int) PageInfo {
	totalPages := 0
	if req.Limit > 0 {
		totalPages = int((total + int64(req.Limit) - 1) / int64(req.Limit))
	}
	return PageInfo{
		Last:             req.Page+1 >= totalPages,
		TotalPages:       totalPages,
		TotalElements:    total,
		First:            req.Page == 0,
		NumberOfElements: n,
	}
}

// CardPage is one cached page of card projections.
type CardPage struct {
	Cards []CardView `json:"cards"`
	PageInfo
}

// ComplaintView is a complaint enriched with display names. CardID is set
// for CARD complaints and UserName for USER complaints.
type ComplaintView struct {
	ID         ComplaintID   `json:"complaintId"`
	Type       ComplaintType `json:"type"`
	Reason     string        `json:"reason"`
	AuthorName string        `json:"complaintAuthorName"`
	CardID     CardID        `json:"cardId,omitempty"`
	UserName   string        `json:"userName,omitempty"`
}

// ComplaintPage is one cached page of complaint views.
type ComplaintPage struct {
	Complaints []ComplaintView `json:"complaints"`
	PageInfo
}
