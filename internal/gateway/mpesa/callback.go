package mpesa

import "encoding/json"

// Result codes with a meaning beyond success/failure.
const (
	ResultSuccess         = 0
	ResultCancelledByUser = 1032
)

// ReceiptItem is the metadata item carrying the provider receipt.
const ReceiptItem = "MpesaReceiptNumber"

// Callback is the asynchronous result the gateway posts back.
type Callback struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

// MetadataItem values are numbers or strings depending on the item.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// Lookup returns the named item's value rendered as a string.
func (c *StkCallback) Lookup(name string) (string, bool) {
	for _, it := range c.CallbackMetadata.Item {
		if it.Name != name || len(it.Value) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(it.Value, &s); err == nil {
			return s, true
		}
		var n json.Number
		if err := json.Unmarshal(it.Value, &n); err == nil {
			return n.String(), true
		}
		return string(it.Value), true
	}
	return "", false
}
