package enums

import "fmt"

// Gateway names a payment provider binding.
type Gateway string

const (
	GatewaySquare Gateway = "square"
	GatewayStripe Gateway = "stripe"
	GatewayManual Gateway = "manual"
)

var validGateways = []Gateway{
	GatewaySquare,
	GatewayStripe,
	GatewayManual,
}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is known.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
