package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var exportHeader = []string{
	"order_id", "created_at", "status", "sales_channel",
	"product", "qty_kg", "price_per_kg", "tier", "line_total",
}

// WriteCSV streams export rows as CSV. The store already excludes returned
// orders, same as every revenue aggregate.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.OrderID.String(),
			r.CreatedAt.Format(time.RFC3339),
			r.Status,
			r.SalesChannel,
			r.ProductName,
			strconv.FormatFloat(r.QtyKg, 'f', -1, 64),
			strconv.FormatInt(r.PricePerKg, 10),
			r.TierApplied,
			strconv.FormatInt(r.LineTotal, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
