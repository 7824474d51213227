package carriers

import (
	"hash/fnv"
	"strings"

	"shipflow/internal/model"
)

// NormalizeStatus maps a carrier's raw status text to the closed
// normalized set by keyword matching. Unknown text defaults to
// IN_TRANSIT. Keywords cover the Spanish vocabularies used by TIPSA,
// SEUR and Correos Express alongside the English ones.
func NormalizeStatus(raw string) model.ShipmentStatus {
	u := strings.ToUpper(raw)
	switch {
	case contains(u, "OUT FOR DELIVERY", "REPARTO", "EN_REPARTO"):
		return model.StatusOutForDelivery
	case contains(u, "DELIVER", "ENTREGA"):
		return model.StatusDelivered
	case contains(u, "PICK", "RECOGID", "COLLECT"):
		return model.StatusPickedUp
	case contains(u, "CREAT", "GRABAD", "REGISTERED", "PENDIENTE"):
		return model.StatusCreated
	default:
		return model.StatusInTransit
	}
}

func contains(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// mockDigits derives a stable numeric suffix from an order id so mock
// shipments are deterministic per order.
func mockDigits(orderID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return h.Sum32() % 100000
}

// mockSuffix uppercases the tail of an order id for mock references.
func mockSuffix(orderID string) string {
	s := strings.ToUpper(orderID)
	if len(s) > 8 {
		s = s[len(s)-8:]
	}
	return s
}

// mockStatus derives a stable normalized status from a tracking id.
func mockStatus(trackingID string) model.ShipmentStatus {
	seq := []model.ShipmentStatus{
		model.StatusCreated,
		model.StatusPickedUp,
		model.StatusInTransit,
		model.StatusOutForDelivery,
		model.StatusDelivered,
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(trackingID))
	return seq[h.Sum32()%uint32(len(seq))]
}
