package alipay

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

const (
	ackSuccess = "success"
	ackFail    = "fail"

	timeLayout = "2006-01-02 15:04:05"
)

// Adapter speaks the Alipay page-pay protocol: form-encoded callbacks
// signed with RSA2 over the sorted parameter string, amounts in yuan.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Provider() string {
	return domain.ProviderAlipay
}

// BuildRequest signs an alipay.trade.page.pay request and returns the
// gateway redirect URL.
func (a *Adapter) BuildRequest(ctx context.Context, order *orderdomain.Order, pkg *catalogdomain.PointsPackage, creds domain.Credentials) (*domain.PaymentRequest, error) {
	if creds.AppID == "" || creds.PrivateKey == "" {
		return nil, domain.ErrMissingConfig
	}

	bizContent, err := json.Marshal(map[string]string{
		"out_trade_no": order.OrderNo,
		"product_code": "FAST_INSTANT_TRADE_PAY",
		"total_amount": yuanString(order.AmountCents),
		"subject":      pkg.Name,
	})
	if err != nil {
		return nil, err
	}

	signType := creds.SignType
	if signType == "" {
		signType = SignTypeRSA2
	}
	params := map[string]string{
		"app_id":      creds.AppID,
		"method":      "alipay.trade.page.pay",
		"format":      "JSON",
		"charset":     "utf-8",
		"sign_type":   signType,
		"timestamp":   time.Now().Format(timeLayout),
		"version":     "1.0",
		"notify_url":  creds.NotifyURL,
		"return_url":  creds.ReturnURL,
		"biz_content": string(bizContent),
	}

	signature, err := Sign(params, creds.PrivateKey, signType)
	if err != nil {
		return nil, err
	}
	params["sign"] = signature

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	return &domain.PaymentRequest{
		OrderNo:   order.OrderNo,
		PayURL:    creds.Gateway + "?" + values.Encode(),
		ExpiresAt: order.ExpiresAt,
	}, nil
}

// ParseNotification decodes the async callback form body. No signature
// checking happens here.
func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.NotificationEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}
	params := make(map[string]string, len(values))
	for key := range values {
		params[key] = values.Get(key)
	}

	orderNo := strings.TrimSpace(params["out_trade_no"])
	txnID := strings.TrimSpace(params["trade_no"])
	if orderNo == "" || txnID == "" {
		return nil, domain.ErrInvalidPayload
	}

	cents, err := yuanToCents(params["total_amount"])
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	event := &domain.NotificationEvent{
		Provider:      domain.ProviderAlipay,
		OrderNo:       orderNo,
		TransactionID: txnID,
		AmountCents:   cents,
		Currency:      "CNY",
		Status:        mapTradeStatus(params["trade_status"]),
		Params:        params,
		Raw:           payload,
	}
	if paidAt, err := time.Parse(timeLayout, params["gmt_payment"]); err == nil {
		event.PaidAt = paidAt
	}
	return event, nil
}

// FormatAck returns the plain-text body Alipay polls for. Anything
// other than "success" makes the gateway redeliver.
func (a *Adapter) FormatAck(ok bool) domain.Ack {
	body := ackFail
	if ok {
		body = ackSuccess
	}
	return domain.Ack{ContentType: "text/plain; charset=utf-8", Body: body}
}

// Verify checks the RSA signature over the sorted parameter string,
// excluding sign and sign_type.
func (a *Adapter) Verify(event *domain.NotificationEvent, creds domain.Credentials) bool {
	if event == nil || len(event.Params) == 0 {
		return false
	}
	signature := event.Params["sign"]
	if signature == "" || creds.PublicKey == "" {
		return false
	}
	signType := event.Params["sign_type"]
	if signType == "" {
		signType = creds.SignType
	}
	return VerifySignature(signContent(event.Params), signature, creds.PublicKey, signType)
}

func mapTradeStatus(status string) domain.EventStatus {
	switch strings.TrimSpace(status) {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return domain.StatusSucceeded
	case "TRADE_CLOSED":
		return domain.StatusFailed
	default:
		// WAIT_BUYER_PAY and anything newer the gateway grows.
		return domain.StatusPending
	}
}

// signContent builds the canonical string: non-empty params sorted by
// key, joined k=v with &, sign and sign_type excluded.
func signContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if key == "sign" || key == "sign_type" || value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(params[key])
	}
	return b.String()
}

func yuanToCents(amount string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, err
	}
	cents := value.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, domain.ErrInvalidPayload
	}
	return cents.IntPart(), nil
}

func yuanString(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}
