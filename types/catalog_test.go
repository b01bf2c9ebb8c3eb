package types //nolint:revive // types is a valid package name

import (
	"testing"
)

func TestPageCount(t *testing.T) {
	tests := []struct {
		total, pageSize, want int
	}{
		{0, 50, 1},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{95, 50, 2},
		{100, 10, 10},
		{5, 0, 1},
		{-3, 10, 1},
	}

	for _, tt := range tests {
		if got := PageCount(tt.total, tt.pageSize); got != tt.want {
			t.Errorf("PageCount(%d, %d) = %d, want %d", tt.total, tt.pageSize, got, tt.want)
		}
	}
}

func TestPagedResult_IsLastPage(t *testing.T) {
	first := PagedResult[int]{Items: make([]int, 50), Page: 1, PageSize: 50, Total: 95}
	last := PagedResult[int]{Items: make([]int, 45), Page: 2, PageSize: 50, Total: 95}
	empty := PagedResult[int]{Page: 1, PageSize: 50, Total: 0}

	if first.IsLastPage() {
		t.Error("page 1 of 95/50 should not be last")
	}
	if !last.IsLastPage() {
		t.Error("page 2 of 95/50 should be last")
	}
	if !empty.IsLastPage() {
		t.Error("empty result should be last page")
	}
	if last.PageCount() != 2 {
		t.Errorf("PageCount() = %d, want 2", last.PageCount())
	}
}

func TestPagedResult_Validate(t *testing.T) {
	tests := []struct {
		name    string
		r       PagedResult[int]
		wantErr bool
	}{
		{"valid", PagedResult[int]{Items: []int{1, 2}, Page: 1, PageSize: 2, Total: 2}, false},
		{"page zero", PagedResult[int]{Page: 0, PageSize: 2}, true},
		{"page size zero", PagedResult[int]{Page: 1, PageSize: 0}, true},
		{"negative total", PagedResult[int]{Page: 1, PageSize: 2, Total: -1}, true},
		{"too many items", PagedResult[int]{Items: []int{1, 2, 3}, Page: 1, PageSize: 2, Total: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.r.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOffer_DisplayName(t *testing.T) {
	named := "Bodega Central"
	blank := "   "

	tests := []struct {
		name  string
		offer Offer
		want  string
	}{
		{"named", Offer{LocationID: "3", LocationName: &named}, "Bodega Central"},
		{"blank name falls back", Offer{LocationID: "3", LocationName: &blank}, "Location #3"},
		{"nil name falls back", Offer{LocationID: "7"}, "Location #7"},
		{"no id", Offer{}, "Location #?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.offer.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProduct_TotalStock(t *testing.T) {
	five, seven := int64(5), int64(7)

	p := Product{SKU: "X", Offers: []Offer{{Stock: &five}, {}, {Stock: &seven}}}
	total, ok := p.TotalStock()
	if !ok || total != 12 {
		t.Errorf("TotalStock() = (%d, %v), want (12, true)", total, ok)
	}

	none := Product{SKU: "Y", Offers: []Offer{{}, {}}}
	if _, ok := none.TotalStock(); ok {
		t.Error("expected no reported stock")
	}
}
