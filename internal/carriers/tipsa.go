package carriers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// TIPSA is the default domestic carrier: heavy goods, COD and standard
// peninsular traffic.
type TIPSA struct {
	cfg config.CarrierConfig
	hc  *Client
	log *zap.Logger
}

func NewTIPSA(cfg config.CarrierConfig, hc *Client, log *zap.Logger) *TIPSA {
	return &TIPSA{cfg: cfg, hc: hc, log: log.Named("tipsa")}
}

func (t *TIPSA) Code() string { return "tipsa" }
func (t *TIPSA) Name() string { return "TIPSA" }

// tipsaShipment is the TIPSA expedition request schema (Spanish field
// names, weight as a decimal string).
type tipsaShipment struct {
	Destinatario string `json:"destinatario"`
	Direccion    string `json:"direccion"`
	CP           string `json:"cp"`
	Poblacion    string `json:"poblacion"`
	Pais         string `json:"pais"`
	Contacto     string `json:"contacto"`
	Telefono     string `json:"telefono,omitempty"`
	Email        string `json:"email,omitempty"`
	Referencia   string `json:"referencia"`
	Peso         string `json:"peso"`
	Bultos       int    `json:"bultos"`
	Servicio     string `json:"servicio"`
	Reembolso    string `json:"reembolso,omitempty"`
}

type tipsaShipmentResp struct {
	Albaran      string  `json:"albaran"`
	Localizador  string  `json:"localizador"`
	Estado       string  `json:"estado"`
	EtiquetaURL  string  `json:"etiqueta_url"`
	Coste        float64 `json:"coste"`
	Moneda       string  `json:"moneda"`
	FechaEntrega string  `json:"fecha_entrega_estimada"`
}

func (t *TIPSA) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	if err := validateForShipment(t.Code(), o); err != nil {
		return model.ShipmentResult{}, err
	}
	if t.cfg.Mock {
		return t.mockShipment(o), nil
	}
	req := tipsaShipment{
		Destinatario: o.Shipping.Name,
		Direccion:    o.Shipping.Street,
		CP:           o.Shipping.PostalCode,
		Poblacion:    o.Shipping.City,
		Pais:         o.Shipping.Country,
		Contacto:     o.BuyerName,
		Telefono:     o.Shipping.Phone,
		Email:        o.BuyerEmail,
		Referencia:   o.OrderID,
		Peso:         strconv.FormatFloat(o.WeightKg, 'f', 2, 64),
		Bultos:       max(o.Packages, 1),
		Servicio:     tipsaService(o.ServiceLevel),
	}
	if o.COD() {
		req.Reembolso = strconv.FormatFloat(o.TotalAmount, 'f', 2, 64)
	}
	var resp tipsaShipmentResp
	code, err := t.hc.DoJSON(ctx, t.Code(), http.MethodPost, t.cfg.BaseURL+"/api/shipments", t.cfg.APIKey, req, &resp)
	if err != nil {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: "create shipment rejected"}
	}
	if resp.Localizador == "" {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: "response missing localizador"}
	}
	res := model.ShipmentResult{
		Carrier:        t.Code(),
		ShipmentID:     resp.Albaran,
		TrackingNumber: resp.Localizador,
		Status:         NormalizeStatus(resp.Estado),
		LabelURL:       resp.EtiquetaURL,
		Cost:           resp.Coste,
		Currency:       resp.Moneda,
	}
	if ts, err := time.Parse(time.RFC3339, resp.FechaEntrega); err == nil {
		res.EstimatedDelivery = &ts
	}
	return res, nil
}

func (t *TIPSA) mockShipment(o model.Order) model.ShipmentResult {
	shipmentID := fmt.Sprintf("TIPSA-%s%04d", mockSuffix(o.OrderID), mockDigits(o.OrderID)%10000)
	eta := time.Now().UTC().Add(48 * time.Hour)
	t.log.Debug("mock shipment", zap.String("order_id", o.OrderID), zap.String("shipment_id", shipmentID))
	return model.ShipmentResult{
		Carrier:           t.Code(),
		ShipmentID:        shipmentID,
		TrackingNumber:    fmt.Sprintf("1Z%s%04d", mockSuffix(o.OrderID), mockDigits(o.OrderID)%10000),
		Status:            model.StatusCreated,
		LabelURL:          "https://mock.tipsa.example/labels/" + shipmentID,
		Cost:              15.50 + o.WeightKg*2.0,
		Currency:          "EUR",
		EstimatedDelivery: &eta,
	}
}

type tipsaTrackingResp struct {
	Estado string `json:"estado"`
}

func (t *TIPSA) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	if t.cfg.Mock {
		return mockStatus(trackingID), nil
	}
	var resp tipsaTrackingResp
	url := fmt.Sprintf("%s/api/shipments/%s/tracking", t.cfg.BaseURL, trackingID)
	code, err := t.hc.DoJSON(ctx, t.Code(), http.MethodGet, url, t.cfg.APIKey, nil, &resp)
	if err != nil {
		return "", &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return "", &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: "tracking request rejected"}
	}
	return NormalizeStatus(resp.Estado), nil
}

func (t *TIPSA) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	if t.cfg.Mock {
		return nil
	}
	url := fmt.Sprintf("%s/api/shipments/%s/cancel", t.cfg.BaseURL, shipmentID)
	code, err := t.hc.DoJSON(ctx, t.Code(), http.MethodPost, url, t.cfg.APIKey, map[string]string{"motivo": reason}, nil)
	if err != nil {
		return &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: "cancel rejected"}
	}
	return nil
}

func (t *TIPSA) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	if t.cfg.Mock {
		return []byte("%PDF-1.4 mock label " + shipmentID), "pdf", nil
	}
	url := fmt.Sprintf("%s/api/shipments/%s/label", t.cfg.BaseURL, shipmentID)
	b, code, err := t.hc.GetRaw(ctx, t.Code(), url, t.cfg.APIKey)
	if err != nil {
		return nil, "", &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, "", &model.CarrierRequestError{Carrier: t.Code(), StatusCode: code, Detail: "label request rejected"}
	}
	return b, "pdf", nil
}

func tipsaService(level string) string {
	if level == "EXPRESS" {
		return "10"
	}
	return "48" // standard 48h service
}
