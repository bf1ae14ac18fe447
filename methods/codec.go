package methods

import (
	"encoding/json"

	"anarchy.ttfm/donations/donation"
)

func encode(m *donation.PaymentMethod) (b []byte) {
	b, _ = json.Marshal(m)
	return b
}

func decode(b []byte, m *donation.PaymentMethod) (err error) {
	return json.Unmarshal(b, m)
}
