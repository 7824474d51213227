package carriers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"shipflow/internal/config"
	"shipflow/internal/model"
)

// CorreosExpress is an alternative domestic carrier with COD support.
type CorreosExpress struct {
	cfg config.CarrierConfig
	hc  *Client
	log *zap.Logger
}

func NewCorreosExpress(cfg config.CarrierConfig, hc *Client, log *zap.Logger) *CorreosExpress {
	return &CorreosExpress{cfg: cfg, hc: hc, log: log.Named("correosex")}
}

func (c *CorreosExpress) Code() string { return "correosex" }
func (c *CorreosExpress) Name() string { return "Correos Express" }

type correosexShipmentReq struct {
	SolicitanteRef string `json:"refSolicitante"`
	Destinatario   struct {
		Nombre    string `json:"nombre"`
		Calle     string `json:"calle"`
		Localidad string `json:"localidad"`
		CodPostal string `json:"codPostal"`
		Pais      string `json:"pais"`
		Telefono  string `json:"telefono,omitempty"`
		Email     string `json:"email,omitempty"`
	} `json:"destinatario"`
	NumBultos string `json:"numBultos"`
	Peso      string `json:"pesoTotal"`
	Producto  string `json:"codProducto"`
	Reembolso string `json:"importeReembolso,omitempty"`
}

type correosexShipmentResp struct {
	CodigoEnvio  string `json:"codigoEnvio"`
	Seguimiento  string `json:"numSeguimiento"`
	EstadoPedido string `json:"estado"`
	Etiqueta     string `json:"urlEtiqueta"`
}

func (c *CorreosExpress) CreateShipment(ctx context.Context, o model.Order) (model.ShipmentResult, error) {
	if err := validateForShipment(c.Code(), o); err != nil {
		return model.ShipmentResult{}, err
	}
	if c.cfg.Mock {
		n := mockDigits(o.OrderID)
		shipmentID := fmt.Sprintf("CEX-%08d", n)
		return model.ShipmentResult{
			Carrier:        c.Code(),
			ShipmentID:     shipmentID,
			TrackingNumber: fmt.Sprintf("PQ%010d", n),
			Status:         model.StatusCreated,
			LabelURL:       "https://mock.cex.example/labels/" + shipmentID,
			Cost:           8.75 + o.WeightKg*1.2,
			Currency:       "EUR",
		}, nil
	}
	var req correosexShipmentReq
	req.SolicitanteRef = o.OrderID
	req.Destinatario.Nombre = o.Shipping.Name
	req.Destinatario.Calle = o.Shipping.Street
	req.Destinatario.Localidad = o.Shipping.City
	req.Destinatario.CodPostal = o.Shipping.PostalCode
	req.Destinatario.Pais = o.Shipping.Country
	req.Destinatario.Telefono = o.Shipping.Phone
	req.Destinatario.Email = o.BuyerEmail
	req.NumBultos = strconv.Itoa(max(o.Packages, 1))
	req.Peso = strconv.FormatFloat(o.WeightKg, 'f', 3, 64)
	req.Producto = "63" // paq 24h
	if o.COD() {
		req.Reembolso = strconv.FormatFloat(o.TotalAmount, 'f', 2, 64)
	}
	var resp correosexShipmentResp
	code, err := c.hc.DoJSON(ctx, c.Code(), http.MethodPost, c.cfg.BaseURL+"/api/v1/envios", c.cfg.APIKey, req, &resp)
	if err != nil {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: "create shipment rejected"}
	}
	if resp.Seguimiento == "" {
		return model.ShipmentResult{}, &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: "response missing numSeguimiento"}
	}
	return model.ShipmentResult{
		Carrier:        c.Code(),
		ShipmentID:     resp.CodigoEnvio,
		TrackingNumber: resp.Seguimiento,
		Status:         NormalizeStatus(resp.EstadoPedido),
		LabelURL:       resp.Etiqueta,
	}, nil
}

func (c *CorreosExpress) GetShipmentStatus(ctx context.Context, trackingID string) (model.ShipmentStatus, error) {
	if c.cfg.Mock {
		return mockStatus(trackingID), nil
	}
	var resp struct {
		Estados []struct {
			Descripcion string `json:"descripcion"`
		} `json:"estados"`
	}
	url := fmt.Sprintf("%s/api/v1/seguimiento/%s", c.cfg.BaseURL, trackingID)
	code, err := c.hc.DoJSON(ctx, c.Code(), http.MethodGet, url, c.cfg.APIKey, nil, &resp)
	if err != nil {
		return "", &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return "", &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: "tracking request rejected"}
	}
	if len(resp.Estados) == 0 {
		return model.StatusCreated, nil
	}
	last := resp.Estados[len(resp.Estados)-1]
	return NormalizeStatus(last.Descripcion), nil
}

func (c *CorreosExpress) CancelShipment(ctx context.Context, shipmentID, reason string) error {
	if c.cfg.Mock {
		return nil
	}
	url := fmt.Sprintf("%s/api/v1/envios/%s/anular", c.cfg.BaseURL, shipmentID)
	code, err := c.hc.DoJSON(ctx, c.Code(), http.MethodPost, url, c.cfg.APIKey, map[string]string{"motivo": reason}, nil)
	if err != nil {
		return &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: "cancel rejected"}
	}
	return nil
}

func (c *CorreosExpress) GetLabel(ctx context.Context, shipmentID string) ([]byte, string, error) {
	if c.cfg.Mock {
		return []byte("%PDF-1.4 mock label " + shipmentID), "pdf", nil
	}
	url := fmt.Sprintf("%s/api/v1/envios/%s/etiqueta", c.cfg.BaseURL, shipmentID)
	b, code, err := c.hc.GetRaw(ctx, c.Code(), url, c.cfg.APIKey)
	if err != nil {
		return nil, "", &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: err.Error(), Err: err}
	}
	if code < 200 || code >= 300 {
		return nil, "", &model.CarrierRequestError{Carrier: c.Code(), StatusCode: code, Detail: "label request rejected"}
	}
	return b, "pdf", nil
}
