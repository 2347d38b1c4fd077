package mpesa

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Simulated accepts every push without network access. It stands in for
// the gateway when no credentials are configured; confirmation is then
// driven by the payment service's simulated path.
type Simulated struct{}

var _ Gateway = Simulated{}

func (Simulated) InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &PushResult{
		MerchantRequestID: "SIM-" + shortID(),
		CheckoutRequestID: "ws_CO_SIM_" + shortID(),
		Accepted:          true,
		Description:       "Success. Request accepted for processing",
	}, nil
}

// SyntheticReceipt returns a receipt number for simulated completions.
func SyntheticReceipt() string {
	return "SIM" + strings.ToUpper(shortID()[:10])
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
