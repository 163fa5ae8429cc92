package mpesa

import "encoding/json"

// Daraja API paths, relative to the configured base URL.
const (
	pathOAuth       = "/oauth/v1/generate?grant_type=client_credentials"
	pathSTKPush     = "/mpesa/stkpush/v1/processrequest"
	pathSTKQuery    = "/mpesa/stkpushquery/v1/query"
	pathRegisterURL = "/mpesa/c2b/v1/registerurl"
)

// transactionType is the STK push transaction type for till payments.
const transactionType = "CustomerBuyGoodsOnline"

// tokenResponse is the OAuth credential response.
// expires_in arrives as a string of seconds.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// stkPushRequest is the outbound STK push payload.
type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// stkPushResponse is the synchronous STK push acknowledgment.
type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// stkQueryRequest is the outbound status query payload.
type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// stkQueryResponse is the status query response. ResultCode is documented as
// a string but has been observed as a number in sandbox traffic, so it is
// decoded as json.Number.
type stkQueryResponse struct {
	ResponseCode      string      `json:"ResponseCode"`
	CheckoutRequestID string      `json:"CheckoutRequestID"`
	ResultCode        json.Number `json:"ResultCode"`
	ResultDesc        string      `json:"ResultDesc"`
}

// registerURLRequest is the C2B callback URL registration payload.
type registerURLRequest struct {
	ShortCode       string `json:"ShortCode"`
	ResponseType    string `json:"ResponseType"`
	ConfirmationURL string `json:"ConfirmationURL"`
	ValidationURL   string `json:"ValidationURL"`
}

// PushResult is the outcome of a successful STK push initiation.
// CheckoutRequestID is the gateway-issued correlation id that ties the
// synchronous initiation to the asynchronous callback.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
}

// Gateway result codes with defined meanings.
const (
	// ResultCodeSuccess indicates the payer completed the payment.
	ResultCodeSuccess = 0

	// ResultCodeCancelled indicates the payer dismissed the prompt.
	ResultCodeCancelled = 1032
)

// QueryResult is the outcome of a transaction status query.
type QueryResult struct {
	ResultCode int
	ResultDesc string
}

// Succeeded reports whether the query resolved to a successful payment.
func (q QueryResult) Succeeded() bool { return q.ResultCode == ResultCodeSuccess }
