package summary

import (
	"math"
	"sort"

	"shuq/internal/model"

	"github.com/shopspring/decimal"
)

// PerSKU 单个商品的议价统计。
type PerSKU struct {
	SKU                  string          `json:"sku"`
	Name                 string          `json:"name"`
	TotalOffers          int             `json:"total_offers"`
	AcceptedOffers       int             `json:"accepted_offers"`
	RejectedOffers       int             `json:"rejected_offers"`
	AcceptanceRate       int             `json:"acceptance_rate"`
	AverageOfferedAmount decimal.Decimal `json:"average_offered_amount"`
}

// Summarize groups attempts by SKU. AcceptanceRate and AverageOfferedAmount are
// rounded to the nearest integer. Rows are ordered by TotalOffers descending;
// ties keep first-seen order.
func Summarize(attempts []model.OfferAttempt) []PerSKU {
	type acc struct {
		row PerSKU
		sum decimal.Decimal
	}
	idx := make(map[string]*acc)
	order := make([]string, 0)

	for _, a := range attempts {
		g, ok := idx[a.ProductSKU]
		if !ok {
			g = &acc{row: PerSKU{SKU: a.ProductSKU, Name: a.ProductName}, sum: decimal.Zero}
			idx[a.ProductSKU] = g
			order = append(order, a.ProductSKU)
		}
		g.row.TotalOffers++
		switch a.Status {
		case model.OfferAccepted:
			g.row.AcceptedOffers++
		case model.OfferRejected:
			g.row.RejectedOffers++
		}
		g.sum = g.sum.Add(a.OfferedAmount)
	}

	out := make([]PerSKU, 0, len(order))
	for _, sku := range order {
		g := idx[sku]
		total := g.row.TotalOffers
		g.row.AcceptanceRate = int(math.Round(float64(g.row.AcceptedOffers) / float64(total) * 100))
		g.row.AverageOfferedAmount = g.sum.Div(decimal.NewFromInt(int64(total))).Round(0)
		out = append(out, g.row)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalOffers > out[j].TotalOffers
	})
	return out
}
