package mpesa

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// callbackEnvelope mirrors the gateway's asynchronous result structure:
// {"Body":{"stkCallback":{...}}}. The payload is externally controlled, so
// every field is optional at the wire level and validated after decoding.
type callbackEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string           `json:"MerchantRequestID"`
			CheckoutRequestID string           `json:"CheckoutRequestID"`
			ResultCode        *json.Number     `json:"ResultCode"`
			ResultDesc        string           `json:"ResultDesc"`
			CallbackMetadata  callbackMetadata `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackMetadata struct {
	Item []callbackItem `json:"Item"`
}

// callbackItem is a Name/Value pair. Values are strings for receipts and
// phone numbers but numbers for amounts and transaction dates.
type callbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// Metadata item names emitted on successful payments.
const (
	metaAmount          = "Amount"
	metaReceiptNumber   = "MpesaReceiptNumber"
	metaTransactionDate = "TransactionDate"
	metaPhoneNumber     = "PhoneNumber"
)

// transactionDateLayout is the gateway's numeric timestamp format.
const transactionDateLayout = "20060102150405"

// CallbackResult is the validated, typed form of a gateway callback.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	// Populated only when ResultCode indicates success.
	ReceiptNumber   string
	Amount          decimal.Decimal
	TransactionTime time.Time
	PhoneNumber     string
}

// Succeeded reports whether the callback describes a completed payment.
func (c *CallbackResult) Succeeded() bool { return c.ResultCode == ResultCodeSuccess }

// ParseCallback decodes and validates a raw callback payload. A payload that
// does not carry a CheckoutRequestID and ResultCode is rejected with
// ErrMalformedCallback; missing success metadata on a ResultCode 0 callback
// is tolerated (the fields are simply left zero) since the gateway has been
// observed to omit individual items.
func ParseCallback(payload []byte) (*CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := envelope.Body.STKCallback
	if cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID or ResultCode", ErrMalformedCallback)
	}

	resultCode, err := cb.ResultCode.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: non-integer ResultCode %q", ErrMalformedCallback, cb.ResultCode.String())
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        int(resultCode),
		ResultDesc:        cb.ResultDesc,
	}

	if result.ResultCode == ResultCodeSuccess {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case metaReceiptNumber:
				result.ReceiptNumber = itemString(item.Value)
			case metaPhoneNumber:
				result.PhoneNumber = itemString(item.Value)
			case metaAmount:
				if amt, ok := itemDecimal(item.Value); ok {
					result.Amount = amt
				}
			case metaTransactionDate:
				if ts, ok := itemTime(item.Value); ok {
					result.TransactionTime = ts
				}
			}
		}
	}

	return result, nil
}

// AckBody is the acknowledgment returned to the gateway for every callback
// delivery, successful or not, to prevent gateway-side retry storms.
func AckBody() []byte {
	return []byte(`{"ResultCode":0,"ResultDesc":"Accepted"}`)
}

// itemString coerces a metadata value to a string. Numeric phone numbers are
// rendered without an exponent.
func itemString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return decimal.NewFromFloat(val).String()
	default:
		return ""
	}
}

// itemDecimal coerces a metadata value to a decimal amount.
func itemDecimal(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}

// itemTime parses the gateway's numeric YYYYMMDDHHMMSS timestamp.
func itemTime(v any) (time.Time, bool) {
	raw := itemString(v)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(transactionDateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
