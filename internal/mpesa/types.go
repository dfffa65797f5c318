package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Environment selects the Daraja host.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// BaseURL returns the Daraja host for the environment.
func (e Environment) BaseURL() string {
	if e == Production {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// CallbackPath is where the gateway posts STK results, relative to the public base URL.
	CallbackPath = "/api/v1/payments/mpesa/callback"

	transactionTypePayBill = "CustomerPayBillOnline"
)

// STKPushRequest is the caller facing push request; Phone must already be normalized.
type STKPushRequest struct {
	Phone            string
	Amount           int64
	AccountReference string
	Description      string
}

type stkPushEnvelope struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// STKPushResponse is the synchronous acknowledgement of a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryEnvelope struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// STKQueryResponse is the push status query result.
type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          Code   `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// apiError is the error body Daraja returns on 4xx/5xx.
type apiError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (e apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.ErrorMessage)
}

// Code accepts result codes sent either as JSON strings or numbers.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

// Success reports whether the code is the gateway's "0".
func (c Code) Success() bool { return c == "0" }

// CallbackItem is one named entry in CallbackMetadata.Item.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// String renders Value without JSON quoting; numbers keep their literal form.
func (i CallbackItem) String() string {
	if len(i.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(i.Value, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(i.Value, &n); err == nil {
		return n.String()
	}
	return string(i.Value)
}

// Int64 parses Value as an integer amount, truncating any fraction.
func (i CallbackItem) Int64() (int64, bool) {
	s := i.String()
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}

// Callback is the asynchronous STK result body.
type Callback struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        Code   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []CallbackItem `json:"Item"`
	} `json:"CallbackMetadata,omitempty"`
}

// Items returns the metadata items, nil when the callback carried none.
func (c STKCallback) Items() []CallbackItem {
	if c.CallbackMetadata == nil {
		return nil
	}
	return c.CallbackMetadata.Item
}

// Acknowledgement is the fixed body the gateway expects back from the callback URL.
type Acknowledgement struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted is returned for every callback regardless of processing outcome.
var Accepted = Acknowledgement{ResultCode: 0, ResultDesc: "Success"}
