package store

import (
	"encoding/csv"
	"io"

	"shipflow/internal/model"
)

// WriteOrdersCSV writes the orders-view records in the canonical CSV
// layout, header included. Works for any Store implementation.
func WriteOrdersCSV(w io.Writer, recs []model.OrderView) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OrdersHeader); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := cw.Write(orderToRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteOpsCSV writes operation log entries in the canonical CSV
// layout, header included.
func WriteOpsCSV(w io.Writer, ops []model.OpEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(OpsHeader); err != nil {
		return err
	}
	for _, e := range ops {
		if err := cw.Write(opToRow(e)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
