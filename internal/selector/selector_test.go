package selector

import (
	"testing"

	"shipflow/internal/model"
)

func order(weight float64, payment, service, country string) model.Order {
	return model.Order{
		OrderID:       "MIR-1",
		WeightKg:      weight,
		PaymentMethod: payment,
		ServiceLevel:  service,
		Shipping:      model.Address{Country: country},
	}
}

func TestSelectRules(t *testing.T) {
	r := Default()
	cases := []struct {
		name        string
		o           model.Order
		wantCarrier string
		wantReason  string
	}{
		{"heavy", order(25, "", "STANDARD", "ES"), "tipsa", ReasonHeavy},
		{"heavy beats cod", order(25, "COD", "STANDARD", "ES"), "tipsa", ReasonHeavy},
		{"cod", order(2, "COD", "STANDARD", "ES"), "tipsa", ReasonCOD},
		{"cod beats express", order(2, "COD", "EXPRESS", "ES"), "tipsa", ReasonCOD},
		{"express", order(2, "", "EXPRESS", "ES"), "gls", ReasonExpress},
		{"international", order(2, "", "STANDARD", "FR"), "seur", ReasonInternational},
		{"default", order(2, "", "STANDARD", "ES"), "tipsa", ReasonDefault},
		{"empty country stays domestic", order(2, "", "", ""), "tipsa", ReasonDefault},
		{"boundary weight not heavy", order(20, "", "", "ES"), "tipsa", ReasonDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, reason := r.Select(tc.o)
			if c != tc.wantCarrier || reason != tc.wantReason {
				t.Fatalf("Select = (%s, %s), want (%s, %s)", c, reason, tc.wantCarrier, tc.wantReason)
			}
		})
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	r := Default()
	o := order(25, "COD", "EXPRESS", "FR")
	c1, reason1 := r.Select(o)
	for i := 0; i < 100; i++ {
		c, reason := r.Select(o)
		if c != c1 || reason != reason1 {
			t.Fatalf("iteration %d: got (%s, %s), want (%s, %s)", i, c, reason, c1, reason1)
		}
	}
}
