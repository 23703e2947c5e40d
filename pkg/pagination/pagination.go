package pagination

import (
	"strconv"
)

// Params represents page-based pagination parameters
type Params struct {
	Page   int
	Size   int
	Offset int
}

// Page wraps a page of results with its metadata
type Page struct {
	Page    int         `json:"page"`
	Size    int         `json:"size"`
	HasMore bool        `json:"has_more"`
	Data    interface{} `json:"data"`
}

const (
	DefaultPage = 0
	DefaultSize = 20
	MaxSize     = 100
	MinSize     = 1
)

// Parse parses page/size query parameters, clamping anything unusable to
// sane bounds
func Parse(pageStr, sizeStr string) Params {
	page := DefaultPage
	size := DefaultSize

	if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
		page = p
	}

	if s, err := strconv.Atoi(sizeStr); err == nil {
		switch {
		case s < MinSize:
			size = MinSize
		case s > MaxSize:
			size = MaxSize
		default:
			size = s
		}
	}

	return Params{
		Page:   page,
		Size:   size,
		Offset: page * size,
	}
}
