package analytics

import (
	"strings"
	"testing"
)

func TestExportQueryExcludesReturnedOrders(t *testing.T) {
	if !strings.Contains(exportQuery, "o.status <> 'returned'") {
		t.Fatal("export query must exclude returned orders like every other aggregate")
	}
}
