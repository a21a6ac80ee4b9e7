package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		query      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 1, 20, 0},
		{"explicit", "page=3&limit=10", 3, 10, 20},
		{"limit clamped", "page=1&limit=500", 1, 100, 0},
		{"zero page falls back", "page=0&limit=10", 1, 10, 0},
		{"negative limit falls back", "page=2&limit=-5", 2, 20, 20},
		{"garbage falls back", "page=abc&limit=xyz", 1, 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/?"+tt.query, nil)

			got := Parse(c)
			if got.Page != tt.wantPage || got.Limit != tt.wantLimit {
				t.Errorf("Parse(%q) = %+v, want page %d limit %d", tt.query, got, tt.wantPage, tt.wantLimit)
			}
			if got.Offset() != tt.wantOffset {
				t.Errorf("Offset() = %d, want %d", got.Offset(), tt.wantOffset)
			}
		})
	}
}
