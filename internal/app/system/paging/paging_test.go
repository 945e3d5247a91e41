package paging

import (
	"net/http/httptest"
	"testing"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Page
	}{
		{"defaults", "", Page{Start: 1, Size: PageSize}},
		{"start and limit", "?start=51&limit=25", Page{Start: 51, Size: 25}},
		{"limit capped", "?limit=10000", Page{Start: 1, Size: MaxPageSize}},
		{"garbage ignored", "?start=abc&limit=-3", Page{Start: 1, Size: PageSize}},
		{"zero start", "?start=0", Page{Start: 1, Size: PageSize}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromRequest(httptest.NewRequest("GET", "/x"+tt.query, nil))
			if got != tt.want {
				t.Errorf("FromRequest(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

func TestPageBounds(t *testing.T) {
	p := Page{Start: 11, Size: 10}
	if p.Skip() != 10 {
		t.Errorf("Skip() = %d, want 10", p.Skip())
	}
	if p.LimitPlusOne() != 11 {
		t.Errorf("LimitPlusOne() = %d, want 11", p.LimitPlusOne())
	}
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name    string
		rows    []int
		page    Page
		wantLen int
		wantRes Result
	}{
		{
			name:    "empty first page",
			rows:    nil,
			page:    Page{Start: 1, Size: 3},
			wantLen: 0,
			wantRes: Result{},
		},
		{
			name:    "short first page",
			rows:    []int{1, 2},
			page:    Page{Start: 1, Size: 3},
			wantLen: 2,
			wantRes: Result{Start: 1, End: 2},
		},
		{
			name:    "look-ahead row trimmed",
			rows:    []int{1, 2, 3, 4},
			page:    Page{Start: 1, Size: 3},
			wantLen: 3,
			wantRes: Result{Start: 1, End: 3, HasNext: true, NextStart: 4},
		},
		{
			name:    "middle page",
			rows:    []int{4, 5, 6, 7},
			page:    Page{Start: 4, Size: 3},
			wantLen: 3,
			wantRes: Result{Start: 4, End: 6, HasPrev: true, PrevStart: 1, HasNext: true, NextStart: 7},
		},
		{
			name:    "past the end",
			rows:    nil,
			page:    Page{Start: 10, Size: 3},
			wantLen: 0,
			wantRes: Result{HasPrev: true, PrevStart: 7},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := tt.rows
			got := Trim(&rows, tt.page)
			if len(rows) != tt.wantLen {
				t.Errorf("len(rows) = %d, want %d", len(rows), tt.wantLen)
			}
			if got != tt.wantRes {
				t.Errorf("Trim() = %+v, want %+v", got, tt.wantRes)
			}
		})
	}
}
