package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		query   string
		page    int
		perPage int
		offset  int
	}{
		{"", 1, 20, 0},
		{"?page=3&per_page=10", 3, 10, 20},
		{"?page=0&per_page=500", 1, 20, 0},
		{"?page=abc", 1, 20, 0},
	}

	for _, tt := range tests {
		p := FromRequest(httptest.NewRequest("GET", "/orders"+tt.query, nil))
		assert.Equal(t, tt.page, p.Page, tt.query)
		assert.Equal(t, tt.perPage, p.PerPage, tt.query)
		assert.Equal(t, tt.offset, p.Offset(), tt.query)
	}
}

func TestNewResult(t *testing.T) {
	r := NewResult([]string{"a", "b"}, 41, Params{Page: 2, PerPage: 20})
	assert.Equal(t, 3, r.TotalPages)
	assert.True(t, r.HasNext)

	last := NewResult([]string{"z"}, 41, Params{Page: 3, PerPage: 20})
	assert.False(t, last.HasNext)

	empty := NewResult[string](nil, 0, Params{Page: 1, PerPage: 20})
	assert.NotNil(t, empty.Data)
	assert.Equal(t, 0, empty.TotalPages)
}
