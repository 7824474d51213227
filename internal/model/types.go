package model

import "time"

// State is the orchestration pipeline stage an order currently occupies.
type State string

const (
	StatePendingPost      State = "PENDING_POST"
	StatePosted           State = "POSTED"
	StateAwaitingTracking State = "AWAITING_TRACKING"
	StateTracked          State = "TRACKED"
	StateMiraklOK         State = "MIRAKL_OK"
	StateFailedPost       State = "FAILED_POST"
	StateFailedTracking   State = "FAILED_TRACKING"
	StateFailedPush       State = "FAILED_PUSH"
)

// Failed reports whether the state is one of the FAILED_* states.
func (s State) Failed() bool {
	return s == StateFailedPost || s == StateFailedTracking || s == StateFailedPush
}

// ShipmentStatus is the normalized carrier status vocabulary.
type ShipmentStatus string

const (
	StatusCreated        ShipmentStatus = "CREATED"
	StatusPickedUp       ShipmentStatus = "PICKED_UP"
	StatusInTransit      ShipmentStatus = "IN_TRANSIT"
	StatusOutForDelivery ShipmentStatus = "OUT_FOR_DELIVERY"
	StatusDelivered      ShipmentStatus = "DELIVERED"
)

// Progressed reports whether moving from prev to s is a meaningful
// progression worth pushing to the marketplace.
func (s ShipmentStatus) Progressed(prev ShipmentStatus) bool {
	return statusRank(s) > statusRank(prev)
}

func statusRank(s ShipmentStatus) int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPickedUp:
		return 1
	case StatusInTransit:
		return 2
	case StatusOutForDelivery:
		return 3
	case StatusDelivered:
		return 4
	}
	return -1
}

// Address is a normalized shipping address.
type Address struct {
	Name       string `json:"name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Order is a normalized marketplace order. Immutable once fetched;
// pipeline status lives on the OrderView record instead.
type Order struct {
	OrderID       string    `json:"orderId"`
	Marketplace   string    `json:"marketplace"`
	BuyerName     string    `json:"buyerName"`
	BuyerEmail    string    `json:"buyerEmail,omitempty"`
	TotalAmount   float64   `json:"totalAmount"`
	Currency      string    `json:"currency"`
	Shipping      Address   `json:"shipping"`
	WeightKg      float64   `json:"weightKg"`
	Packages      int       `json:"packages"`
	PaymentMethod string    `json:"paymentMethod,omitempty"` // "COD" flags cash-on-delivery
	ServiceLevel  string    `json:"serviceLevel,omitempty"`  // "STANDARD" or "EXPRESS"
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// COD reports whether the order is paid cash-on-delivery.
func (o Order) COD() bool { return o.PaymentMethod == "COD" }

// ShipmentResult is what a carrier adapter returns for a posted order.
type ShipmentResult struct {
	Carrier           string         `json:"carrier"`
	ShipmentID        string         `json:"shipmentId"`
	TrackingNumber    string         `json:"trackingNumber"`
	Status            ShipmentStatus `json:"status"`
	LabelURL          string         `json:"labelUrl,omitempty"`
	LabelFormat       string         `json:"labelFormat,omitempty"`
	Cost              float64        `json:"cost,omitempty"`
	Currency          string         `json:"currency,omitempty"`
	EstimatedDelivery *time.Time     `json:"estimatedDelivery,omitempty"`
}

// OrderView is the truth-table row: current state of one order as it
// moves through the pipeline. Keyed by OrderID, upsert semantics.
type OrderView struct {
	OrderID     string  `json:"orderId"`
	Marketplace string  `json:"marketplace"`
	BuyerEmail  string  `json:"buyerEmail,omitempty"`
	BuyerName   string  `json:"buyerName,omitempty"`
	TotalAmount float64 `json:"totalAmount"`
	Currency    string  `json:"currency,omitempty"`

	CarrierCode    string         `json:"carrierCode,omitempty"`
	CarrierName    string         `json:"carrierName,omitempty"`
	TrackingNumber string         `json:"trackingNumber,omitempty"`
	LabelURL       string         `json:"labelUrl,omitempty"`
	CarrierStatus  ShipmentStatus `json:"carrierStatus,omitempty"`

	State     State     `json:"internalState"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	LastError  string `json:"lastError,omitempty"`
	RetryCount int    `json:"retryCount"`

	MiraklTrackingUpdated bool `json:"miraklTrackingUpdated"`
	MiraklShipUpdated     bool `json:"miraklShipUpdated"`

	// Consignee / label fields kept for compatibility with the CSV
	// exports consumed downstream.
	Reference        string  `json:"reference,omitempty"`
	ConsigneeName    string  `json:"consigneeName,omitempty"`
	ConsigneeAddress string  `json:"consigneeAddress,omitempty"`
	ConsigneeCity    string  `json:"consigneeCity,omitempty"`
	ConsigneePostal  string  `json:"consigneePostalCode,omitempty"`
	ConsigneeCountry string  `json:"consigneeCountry,omitempty"`
	ConsigneePhone   string  `json:"consigneePhone,omitempty"`
	Packages         int     `json:"packages,omitempty"`
	WeightKg         float64 `json:"weightKg,omitempty"`
	Volume           float64 `json:"volume,omitempty"`
	ShippingCost     float64 `json:"shippingCost,omitempty"`
	ProductType      string  `json:"productType,omitempty"`
	CODAmount        float64 `json:"codAmount,omitempty"`
	Observations     string  `json:"observations,omitempty"`
	PackageType      string  `json:"packageType,omitempty"`
	OrderDate        string  `json:"orderDate,omitempty"`
	ClientName       string  `json:"clientName,omitempty"`
	ClientCode       string  `json:"clientCode,omitempty"`
	ReturnFlag       bool    `json:"returnFlag,omitempty"`
	MultiReference   string  `json:"multiReference,omitempty"`
}

// Scope identifies which collaborator an operation touched.
type Scope string

const (
	ScopeMirakl       Scope = "mirakl"
	ScopeCarrier      Scope = "carrier"
	ScopeOrchestrator Scope = "orchestrator"
)

// OpStatus is the outcome recorded for one logged action.
type OpStatus string

const (
	OpOK      OpStatus = "OK"
	OpError   OpStatus = "ERROR"
	OpWarning OpStatus = "WARNING"
)

// OpEntry is one immutable row of the append-only operations log.
type OpEntry struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Scope       Scope          `json:"scope"`
	Action      string         `json:"action"`
	OrderID     string         `json:"orderId,omitempty"`
	Carrier     string         `json:"carrier,omitempty"`
	Marketplace string         `json:"marketplace,omitempty"`
	Status      OpStatus       `json:"status"`
	Message     string         `json:"message,omitempty"`
	DurationMs  int64          `json:"durationMs"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// BatchResult is the per-operation summary returned by orchestrator steps.
type BatchResult struct {
	Operation string        `json:"operation"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Details   []OrderResult `json:"details"`
}

// OrderResult is one order's outcome within a batch.
type OrderResult struct {
	OrderID        string `json:"orderId"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	State          State  `json:"state"`
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
}
