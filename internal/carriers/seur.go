package carriers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// SEUR handles international shipments.
type SEUR struct {
	cfg config.CarrierConfig
	hc  *Client
	log *zap.Logger
}

func NewSEUR(cfg config.CarrierConfig, hc *Client, log *zap.Logger) *SEUR {
	return &SEUR{cfg: cfg, hc: hc, log: log.Named("seur")}
}

func (s *SEUR) Code() string { return "seur" }
func (s *SEUR) Name() string { return "SEUR" }

type seurShipmentReq struct {
	ServiceCode string `json:"serviceCode"`
	Reference   string `json:"reference"`
	Receiver    struct {
		Name    string `json:"name"`
		Address struct {
			Street   string `json:"street"`
			City     string `json:"city"`
			PostCode string `json:"postCode"`
			Country  string `json:"country"`
		} `json:"address"`
		Phone string `json:"phone,omitempty"`
		Email string `json:"email,omitempty"`
	} `json:"receiver"`
	Parcels  int     `json:"parcels"`
	WeightKg float64 `json:"weight"`
}

type seurShipmentResp struct {
	ExpeditionCode string `json:"expeditionCode"`
	ParcelNumber   string `json:"parcelNumber"`
	Situation      string `json:"situation"`
	LabelReference string `json:"labelReference"`
}

func (s *SEUR) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	if err := validateForShipment(s.Code(), o); err != nil {
		return model.ShipmentResult{}, err
	}
	if s.cfg.Mock {
		n := mockDigits(o.OrderID)
		shipmentID := fmt.Sprintf("SEUR-%08d", n)
		return model.ShipmentResult{
			Carrier:        s.Code(),
			ShipmentID:     shipmentID,
			TrackingNumber: fmt.Sprintf("ES%09d", n),
			Status:         model.StatusCreated,
			LabelURL:       "https://mock.seur.example/labels/" + shipmentID,
			Cost:           19.90 + o.WeightKg*2.5,
			Currency:       "EUR",
		}, nil
	}
	var req seurShipmentReq
	req.ServiceCode = seurService(o)
	req.Reference = o.OrderID
	req.Receiver.Name = o.Shipping.Name
	req.Receiver.Address.Street = o.Shipping.Street
	req.Receiver.Address.City = o.Shipping.City
	req.Receiver.Address.PostCode = o.Shipping.PostalCode
	req.Receiver.Address.Country = o.Shipping.Country
	req.Receiver.Phone = o.Shipping.Phone
	req.Receiver.Email = o.BuyerEmail
	req.Parcels = max(o.Packages, 1)
	req.WeightKg = o.WeightKg

	var resp seurShipmentResp
	code, err := s.hc.DoJSON(ctx, s.Code(), http.MethodPost, s.cfg.BaseURL+"/shipments/v1/expeditions", s.cfg.APIKey, req, &resp)
	if err != nil {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: "create shipment rejected"}
	}
	if resp.ParcelNumber == "" {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: "response missing parcelNumber"}
	}
	return model.ShipmentResult{
		Carrier:        s.Code(),
		ShipmentID:     resp.ExpeditionCode,
		TrackingNumber: resp.ParcelNumber,
		Status:         NormalizeStatus(resp.Situation),
		LabelURL:       resp.LabelReference,
	}, nil
}

func (s *SEUR) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	if s.cfg.Mock {
		return mockStatus(trackingID), nil
	}
	var resp struct {
		Situations []struct {
			Description string `json:"description"`
		} `json:"situations"`
	}
	url := fmt.Sprintf("%s/tracking-services/v1/tracking/%s", s.cfg.BaseURL, trackingID)
	code, err := s.hc.DoJSON(ctx, s.Code(), http.MethodGet, url, s.cfg.APIKey, nil, &resp)
	if err != nil {
		return "", &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return "", &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: "tracking request rejected"}
	}
	if len(resp.Situations) == 0 {
		return model.StatusCreated, nil
	}
	// situations are newest-first
	return NormalizeStatus(resp.Situations[0].Description), nil
}

func (s *SEUR) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	if s.cfg.Mock {
		return nil
	}
	url := fmt.Sprintf("%s/shipments/v1/expeditions/%s/cancel", s.cfg.BaseURL, shipmentID)
	code, err := s.hc.DoJSON(ctx, s.Code(), http.MethodPost, url, s.cfg.APIKey, map[string]string{"reason": reason}, nil)
	if err != nil {
		return &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: "cancel rejected"}
	}
	return nil
}

func (s *SEUR) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	if s.cfg.Mock {
		return []byte("%PDF-1.4 mock label " + shipmentID), "pdf", nil
	}
	url := fmt.Sprintf("%s/shipments/v1/expeditions/%s/label", s.cfg.BaseURL, shipmentID)
	b, code, err := s.hc.GetRaw(ctx, s.Code(), url, s.cfg.APIKey)
	if err != nil {
		return nil, "", &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, "", &model.CarrierRequestError{Carrier: s.Code(), StatusCode: code, Detail: "label request rejected"}
	}
	return b, "pdf", nil
}

func seurService(o model.Order) string {
	if o.Shipping.Country != "" && o.Shipping.Country != "ES" {
		return "077" // international classic
	}
	return "031" // standard
}
