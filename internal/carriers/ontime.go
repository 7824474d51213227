package carriers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// OnTime is an alternative domestic carrier, selectable only via an
// explicit carrier filter.
type OnTime struct {
	cfg config.CarrierConfig
	hc  *Client
	log *zap.Logger
}

func NewOnTime(cfg config.CarrierConfig, hc *Client, log *zap.Logger) *OnTime {
	return &OnTime{cfg: cfg, hc: hc, log: log.Named("ontime")}
}

func (a *OnTime) Code() string { return "ontime" }
func (a *OnTime) Name() string { return "OnTime" }

type onTimeShipmentReq struct {
	OrderID      string  `json:"order_id"`
	CustomerName string  `json:"customer_name"`
	Address      string  `json:"address"`
	City         string  `json:"city"`
	PostalCode   string  `json:"postal_code"`
	Country      string  `json:"country"`
	Phone        string  `json:"phone,omitempty"`
	Email        string  `json:"email,omitempty"`
	Weight       float64 `json:"weight"`
	Service      string  `json:"service"`
}

type onTimeShipmentResp struct {
	ShipmentID string  `json:"shipment_id"`
	Tracking   string  `json:"tracking_number"`
	Status     string  `json:"status"`
	LabelURL   string  `json:"label_url"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
}

func (a *OnTime) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	if err := validateForShipment(a.Code(), o); err != nil {
		return model.ShipmentResult{}, err
	}
	if a.cfg.Mock {
		n := mockDigits(o.OrderID)
		shipmentID := fmt.Sprintf("OT-%07d", n)
		return model.ShipmentResult{
			Carrier:        a.Code(),
			ShipmentID:     shipmentID,
			TrackingNumber: fmt.Sprintf("OT%s%05d", mockSuffix(o.OrderID), n),
			Status:         model.StatusCreated,
			LabelURL:       "https://mock.ontime.example/labels/" + shipmentID,
			Cost:           7.25 + o.WeightKg,
			Currency:       "EUR",
		}, nil
	}
	req := onTimeShipmentReq{
		OrderID:      o.OrderID,
		CustomerName: o.Shipping.Name,
		Address:      o.Shipping.Street,
		City:         o.Shipping.City,
		PostalCode:   o.Shipping.PostalCode,
		Country:      o.Shipping.Country,
		Phone:        o.Shipping.Phone,
		Email:        o.BuyerEmail,
		Weight:       o.WeightKg,
		Service:      "standard",
	}
	var resp onTimeShipmentResp
	code, err := a.hc.DoJSON(ctx, a.Code(), http.MethodPost, a.cfg.BaseURL+"/v1/shipments", a.cfg.APIKey, req, &resp)
	if err != nil {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: "create shipment rejected"}
	}
	if resp.Tracking == "" {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: "response missing tracking_number"}
	}
	return model.ShipmentResult{
		Carrier:        a.Code(),
		ShipmentID:     resp.ShipmentID,
		TrackingNumber: resp.Tracking,
		Status:         NormalizeStatus(resp.Status),
		LabelURL:       resp.LabelURL,
		Cost:           resp.Price,
		Currency:       resp.Currency,
	}, nil
}

func (a *OnTime) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	if a.cfg.Mock {
		return mockStatus(trackingID), nil
	}
	var resp struct {
		Status string `json:"status"`
	}
	url := fmt.Sprintf("%s/v1/shipments/%s/status", a.cfg.BaseURL, trackingID)
	code, err := a.hc.DoJSON(ctx, a.Code(), http.MethodGet, url, a.cfg.APIKey, nil, &resp)
	if err != nil {
		return "", &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return "", &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: "tracking request rejected"}
	}
	return NormalizeStatus(resp.Status), nil
}

func (a *OnTime) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	if a.cfg.Mock {
		return nil
	}
	url := fmt.Sprintf("%s/v1/shipments/%s", a.cfg.BaseURL, shipmentID)
	code, err := a.hc.DoJSON(ctx, a.Code(), http.MethodDelete, url, a.cfg.APIKey, nil, nil)
	if err != nil {
		return &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: "cancel rejected"}
	}
	return nil
}

func (a *OnTime) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	if a.cfg.Mock {
		return []byte("%PDF-1.4 mock label " + shipmentID), "pdf", nil
	}
	url := fmt.Sprintf("%s/v1/shipments/%s/label", a.cfg.BaseURL, shipmentID)
	b, code, err := a.hc.GetRaw(ctx, a.Code(), url, a.cfg.APIKey)
	if err != nil {
		return nil, "", &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, "", &model.CarrierRequestError{Carrier: a.Code(), StatusCode: code, Detail: "label request rejected"}
	}
	return b, "pdf", nil
}
