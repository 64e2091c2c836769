package pagination

import (
	"encoding/base64"
	"encoding/json"
)

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=25" binding:"omitempty,gte=1,lte=250"`
}

// Cursor points at the last row of the previous page. Listings order by
// (created_at DESC, id DESC) so the pair identifies a stable resume point.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Trim cuts an over-fetched page (limit+1 rows) back to limit and reports
// whether more rows remain.
func Trim[T any](data []*T, limit int) ([]*T, bool) {
	if limit > 0 && len(data) > limit {
		return data[:limit], true
	}
	return data, false
}
