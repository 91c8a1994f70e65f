package domain

import (
	"errors"
	"strings"
	"time"
)

// ArticleElementType is the element type recorded for article timelines.
const ArticleElementType = "Article"

var ErrInvalidArticle = errors.New("invalid article")

// Article is the sample business entity whose lifecycle is captured.
type Article struct {
	ID        string         `json:"id"`
	Tenant    string         `json:"tenant"`
	Version   int64          `json:"version"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Published bool           `json:"published"`
	Metadata  map[string]any `json:"metadata"`
	CreatedBy string         `json:"createdBy"`
	UpdatedBy string         `json:"updatedBy"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func (a Article) Validate() error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.Join(ErrInvalidArticle, errors.New("title is required"))
	}
	if len(a.Title) > 200 {
		return errors.Join(ErrInvalidArticle, errors.New("title exceeds 200 characters"))
	}
	return nil
}
