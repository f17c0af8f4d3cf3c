package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/smallbiznis/greenledger/pkg/apperr"
	"gorm.io/gorm"
)

var ErrInvalidPageToken = apperr.Field("page_token", "invalid_page_token", "page token is malformed")

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

// Size returns the effective page size.
func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Apply narrows stmt to the page after the cursor, ordered newest first.
// It fetches one extra row so BuildCursorPageInfo can report HasMore.
func Apply(stmt *gorm.DB, page Pagination) (*gorm.DB, error) {
	if page.PageToken != "" {
		cursor, err := DecodeCursor(page.PageToken)
		if err != nil {
			return nil, ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursor.ID)
	}
	return stmt.Order("created_at desc, id desc").Limit(page.Size() + 1), nil
}

func BuildCursorPageInfo[T any](data []*T, limit int, extractCursor func(*T) string) *PageInfo {
	if len(data) == 0 {
		return &PageInfo{HasMore: false}
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	pageInfo := &PageInfo{HasMore: hasMore}
	if hasMore {
		pageInfo.NextPageToken = extractCursor(data[len(data)-1])
	}

	return pageInfo
}

// Page trims items to limit and returns them with page info.
func Page[T any](items []*T, limit int, cursorOf func(*T) (string, time.Time)) ([]*T, PageInfo) {
	info := BuildCursorPageInfo(items, limit, func(item *T) string {
		id, createdAt := cursorOf(item)
		token, err := EncodeCursor(Cursor{ID: id, CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, *info
}
