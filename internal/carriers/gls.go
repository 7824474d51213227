package carriers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// GLS is the express-capable carrier, integrated against a ShipIT-style
// API. GLS offers no tracking webhooks, so its shipments rely entirely
// on the tracking poller.
type GLS struct {
	cfg config.CarrierConfig
	hc  *Client
	log *zap.Logger
}

func NewGLS(cfg config.CarrierConfig, hc *Client, log *zap.Logger) *GLS {
	return &GLS{cfg: cfg, hc: hc, log: log.Named("gls")}
}

func (g *GLS) Code() string { return "gls" }
func (g *GLS) Name() string { return "GLS" }

type glsAddress struct {
	Name1       string `json:"name1"`
	Street1     string `json:"street1"`
	City        string `json:"city"`
	ZipCode     string `json:"zipCode"`
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone,omitempty"`
	Email       string `json:"email,omitempty"`
}

type glsParcel struct {
	Weight  float64 `json:"weight"`
	Comment string  `json:"comment,omitempty"`
}

type glsShipmentReq struct {
	ShipperID    string      `json:"shipperId"`
	References   []string    `json:"shipmentReferences"`
	Product      string      `json:"product"`
	Consignee    glsAddress  `json:"consignee"`
	Parcels      []glsParcel `json:"parcels"`
	IncotermCode string      `json:"incotermCode,omitempty"`
}

type glsShipmentResp struct {
	ConsignmentID string `json:"consignmentId"`
	Parcels       []struct {
		TrackID    string `json:"trackId"`
		ParcelNo   string `json:"parcelNumber"`
		LabelURL   string `json:"labelUrl"`
		StatusText string `json:"status"`
	} `json:"parcels"`
}

func (g *GLS) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	if err := validateForShipment(g.Code(), o); err != nil {
		return model.ShipmentResult{}, err
	}
	if g.cfg.Mock {
		return g.mockShipment(o), nil
	}
	parcels := make([]glsParcel, max(o.Packages, 1))
	perParcel := o.WeightKg / float64(len(parcels))
	for i := range parcels {
		parcels[i] = glsParcel{Weight: perParcel}
	}
	req := glsShipmentReq{
		ShipperID:  g.cfg.APIKey,
		References: []string{o.OrderID},
		Product:    glsProduct(o.ServiceLevel),
		Consignee: glsAddress{
			Name1:       o.Shipping.Name,
			Street1:     o.Shipping.Street,
			City:        o.Shipping.City,
			ZipCode:     o.Shipping.PostalCode,
			CountryCode: o.Shipping.Country,
			Phone:       o.Shipping.Phone,
			Email:       o.BuyerEmail,
		},
		Parcels: parcels,
	}
	var resp glsShipmentResp
	code, err := g.hc.DoJSON(ctx, g.Code(), http.MethodPost, g.cfg.BaseURL+"/backend/rs/shipments", g.cfg.APIKey, req, &resp)
	if err != nil {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "create shipment rejected"}
	}
	if len(resp.Parcels) == 0 || resp.Parcels[0].TrackID == "" {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "response missing trackId"}
	}
	first := resp.Parcels[0]
	return model.ShipmentResult{
		Carrier:        g.Code(),
		ShipmentID:     resp.ConsignmentID,
		TrackingNumber: first.TrackID,
		Status:         NormalizeStatus(first.StatusText),
		LabelURL:       first.LabelURL,
	}, nil
}

func (g *GLS) mockShipment(o model.Order) model.ShipmentResult {
	n := mockDigits(o.OrderID)
	shipmentID := fmt.Sprintf("GLS-%08d", n)
	return model.ShipmentResult{
		Carrier:        g.Code(),
		ShipmentID:     shipmentID,
		TrackingNumber: fmt.Sprintf("ZZ%s%05d", mockSuffix(o.OrderID), n),
		Status:         model.StatusCreated,
		LabelURL:       "https://mock.gls.example/labels/" + shipmentID,
		Cost:           9.90 + o.WeightKg*1.5,
		Currency:       "EUR",
	}
}

type glsTrackingResp struct {
	TUs []struct {
		History []struct {
			EvtDscr string `json:"evtDscr"`
		} `json:"history"`
		ProgressBar struct {
			StatusText string `json:"statusText"`
		} `json:"progressBar"`
	} `json:"tuStatus"`
}

func (g *GLS) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	if g.cfg.Mock {
		return mockStatus(trackingID), nil
	}
	var resp glsTrackingResp
	url := fmt.Sprintf("%s/tracking/rs/tu/%s", g.cfg.BaseURL, trackingID)
	code, err := g.hc.DoJSON(ctx, g.Code(), http.MethodGet, url, g.cfg.APIKey, nil, &resp)
	if err != nil {
		return "", &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return "", &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "tracking request rejected"}
	}
	if len(resp.TUs) == 0 {
		return "", &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "response missing tuStatus"}
	}
	return NormalizeStatus(resp.TUs[0].ProgressBar.StatusText), nil
}

func (g *GLS) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	if g.cfg.Mock {
		return nil
	}
	url := fmt.Sprintf("%s/backend/rs/shipments/%s/cancel", g.cfg.BaseURL, shipmentID)
	code, err := g.hc.DoJSON(ctx, g.Code(), http.MethodPost, url, g.cfg.APIKey, nil, nil)
	if err != nil {
		return &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "cancel rejected"}
	}
	return nil
}

func (g *GLS) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	if g.cfg.Mock {
		return []byte("%PDF-1.4 mock label " + shipmentID), "pdf", nil
	}
	url := fmt.Sprintf("%s/backend/rs/shipments/%s/label", g.cfg.BaseURL, shipmentID)
	b, code, err := g.hc.GetRaw(ctx, g.Code(), url, g.cfg.APIKey)
	if err != nil {
		return nil, "", &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, "", &model.CarrierRequestError{Carrier: g.Code(), StatusCode: code, Detail: "label request rejected"}
	}
	return b, "pdf", nil
}

func glsProduct(level string) string {
	if level == "EXPRESS" {
		return "EXPRESS"
	}
	return "PARCEL"
}
