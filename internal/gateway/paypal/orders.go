package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bistrohq/orders-api/internal/domain"
)

// captureNamespace seeds the deterministic capture request ids.
var captureNamespace = uuid.MustParse("3b0c6b2e-5f7d-4c1a-9e4f-2d8a7c1e6b90")

// CaptureRequestID derives the PayPal-Request-Id for capturing a remote
// order. Retries of the same capture send the same id, so PayPal returns the
// original result instead of charging twice.
func CaptureRequestID(remoteOrderID string) string {
	return uuid.NewSHA1(captureNamespace, []byte("capture:"+remoteOrderID)).String()
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string        `json:"reference_id,omitempty"`
	Description string        `json:"description,omitempty"`
	Amount      money         `json:"amount"`
	Payments    *unitPayments `json:"payments,omitempty"`
}

type unitPayments struct {
	Captures []captureRecord `json:"captures"`
}

type captureRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount money  `json:"amount"`
}

type applicationContext struct {
	ReturnURL  string `json:"return_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
	UserAction string `json:"user_action,omitempty"`
}

type createOrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []purchaseUnit     `json:"purchase_units"`
	ApplicationContext applicationContext `json:"application_context"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []link         `json:"links"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`

	debugID string
}

func (o *orderResponse) setDebugID(id string) { o.debugID = id }

// CreateRemoteOrder is not retried: a repeated create would open a second
// remote order.
func (c *Client) CreateRemoteOrder(ctx context.Context, req domain.RemoteOrderRequest) (domain.RemoteOrder, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.ReferenceID,
			Description: req.Description,
			Amount: money{
				CurrencyCode: req.Currency,
				Value:        req.Amount.StringFixed(2),
			},
		}},
		ApplicationContext: applicationContext{
			ReturnURL:  req.ReturnURL,
			CancelURL:  req.CancelURL,
			UserAction: "PAY_NOW",
		},
	}

	var resp orderResponse
	if err := c.call(ctx, http.MethodPost, "/v2/checkout/orders", "create order", body, nil, &resp); err != nil {
		return domain.RemoteOrder{}, err
	}
	if resp.ID == "" {
		return domain.RemoteOrder{}, &domain.GatewayError{
			Provider: ProviderName, Op: "create order", StatusCode: http.StatusOK, DebugID: resp.debugID,
			Err: errors.New("response has no order id"),
		}
	}

	approval := approvalURL(resp.Links)
	if approval == "" {
		return domain.RemoteOrder{}, &domain.GatewayError{
			Provider: ProviderName, Op: "create order", StatusCode: http.StatusOK, DebugID: resp.debugID,
			Err: errors.New("response has no approval link"),
		}
	}
	return domain.RemoteOrder{ID: resp.ID, ApprovalURL: approval}, nil
}

func (c *Client) RemoteOrderStatus(ctx context.Context, remoteOrderID string) (domain.RemoteStatus, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(remoteOrderID)
	resp, err := retryWithBackoff(ctx, c.retry, func() (orderResponse, error) {
		var resp orderResponse
		err := c.call(ctx, http.MethodGet, path, "get order", nil, nil, &resp)
		return resp, err
	})
	if err != nil {
		return domain.RemoteStatus{}, err
	}
	return mapStatus(resp.Status), nil
}

// CaptureRemoteOrder captures an approved order. It is safe to retry: every
// attempt carries the same PayPal-Request-Id.
func (c *Client) CaptureRemoteOrder(ctx context.Context, remoteOrderID string) (domain.RemoteCapture, error) {
	path := "/v2/checkout/orders/" + url.PathEscape(remoteOrderID) + "/capture"
	headers := map[string]string{
		requestIDHeader: CaptureRequestID(remoteOrderID),
		"Prefer":        "return=representation",
	}

	resp, err := retryWithBackoff(ctx, c.retry, func() (orderResponse, error) {
		var resp orderResponse
		err := c.call(ctx, http.MethodPost, path, "capture order", struct{}{}, headers, &resp)
		return resp, err
	})
	if err != nil {
		return domain.RemoteCapture{}, err
	}

	malformed := func(err error) error {
		return &domain.GatewayError{
			Provider: ProviderName, Op: "capture order", StatusCode: http.StatusOK, DebugID: resp.debugID,
			Err: err,
		}
	}

	capture, ok := firstCapture(resp.PurchaseUnits)
	switch {
	case !ok:
		return domain.RemoteCapture{}, malformed(errors.New("response has no capture record"))
	case capture.ID == "":
		return domain.RemoteCapture{}, malformed(errors.New("capture record has no id"))
	case capture.Amount.Value == "":
		return domain.RemoteCapture{}, malformed(errors.New("capture record has no amount"))
	}
	amount, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil {
		return domain.RemoteCapture{}, malformed(err)
	}

	out := domain.RemoteCapture{
		Status:    mapStatus(resp.Status),
		CaptureID: capture.ID,
		Amount:    amount,
		DebugID:   resp.debugID,
	}
	if capture.Status != "" {
		out.Status = mapStatus(capture.Status)
	}
	return out, nil
}

func approvalURL(links []link) string {
	for _, rel := range []string{"approve", "payer-action"} {
		for _, l := range links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func firstCapture(units []purchaseUnit) (captureRecord, bool) {
	for _, u := range units {
		if u.Payments != nil && len(u.Payments.Captures) > 0 {
			return u.Payments.Captures[0], true
		}
	}
	return captureRecord{}, false
}

// mapStatus covers both order and capture statuses.
func mapStatus(raw string) domain.RemoteStatus {
	state := domain.RemoteStateUnknown
	switch raw {
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		state = domain.RemoteStateCreated
	case "APPROVED":
		state = domain.RemoteStateApproved
	case "COMPLETED":
		state = domain.RemoteStateCompleted
	case "VOIDED":
		state = domain.RemoteStateVoided
	}
	return domain.RemoteStatus{State: state, Raw: raw}
}
