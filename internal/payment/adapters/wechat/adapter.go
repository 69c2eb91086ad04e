package wechat

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

const timeLayout = "20060102150405"

// Adapter speaks the WeChat Pay v2 protocol: XML bodies, MD5 or
// HMAC-SHA256 signatures over sorted params, amounts in fen.
type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Provider() string {
	return domain.ProviderWechat
}

// BuildRequest produces a mode-1 native QR link. The gateway calls the
// merchant back for the real prepay exchange when the code is scanned.
func (a *Adapter) BuildRequest(ctx context.Context, order *orderdomain.Order, pkg *catalogdomain.PointsPackage, creds domain.Credentials) (*domain.PaymentRequest, error) {
	if creds.AppID == "" || creds.MerchantID == "" || creds.APIKey == "" {
		return nil, domain.ErrMissingConfig
	}

	params := map[string]string{
		"appid":      creds.AppID,
		"mch_id":     creds.MerchantID,
		"product_id": order.OrderNo,
		"time_stamp": strconv.FormatInt(time.Now().Unix(), 10),
		"nonce_str":  strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	params["sign"] = Sign(params, creds.APIKey, creds.SignType)

	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	return &domain.PaymentRequest{
		OrderNo:   order.OrderNo,
		CodeURL:   "weixin://wxpay/bizpayurl?" + values.Encode(),
		ExpiresAt: order.ExpiresAt,
	}, nil
}

// ParseNotification decodes the XML callback. return_code reflects the
// gateway's ability to deliver, result_code the payment outcome; both
// must be SUCCESS for a credit.
func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.NotificationEvent, error) {
	params, err := decodeXML(payload)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	orderNo := strings.TrimSpace(params["out_trade_no"])
	txnID := strings.TrimSpace(params["transaction_id"])
	if orderNo == "" {
		return nil, domain.ErrInvalidPayload
	}

	status := domain.StatusPending
	switch {
	case params["return_code"] != "SUCCESS":
		// Gateway-level failure carries no trustworthy business fields.
		return nil, domain.ErrInvalidPayload
	case params["result_code"] == "SUCCESS":
		status = domain.StatusSucceeded
	case params["result_code"] == "FAIL":
		status = domain.StatusFailed
	}
	if status == domain.StatusSucceeded && txnID == "" {
		return nil, domain.ErrInvalidPayload
	}

	var cents int64
	if raw := strings.TrimSpace(params["total_fee"]); raw != "" {
		cents, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || cents < 0 {
			return nil, domain.ErrInvalidPayload
		}
	}

	event := &domain.NotificationEvent{
		Provider:      domain.ProviderWechat,
		OrderNo:       orderNo,
		TransactionID: txnID,
		AmountCents:   cents,
		Currency:      currencyOf(params),
		Status:        status,
		Params:        params,
		Raw:           payload,
	}
	if paidAt, err := time.Parse(timeLayout, params["time_end"]); err == nil {
		event.PaidAt = paidAt
	}
	return event, nil
}

// FormatAck renders the XML response. WeChat redelivers until it sees
// return_code SUCCESS.
func (a *Adapter) FormatAck(ok bool) domain.Ack {
	code, msg := "SUCCESS", "OK"
	if !ok {
		code, msg = "FAIL", "ERROR"
	}
	body := fmt.Sprintf(
		"<xml><return_code><![CDATA[%s]]></return_code><return_msg><![CDATA[%s]]></return_msg></xml>",
		code, msg,
	)
	return domain.Ack{ContentType: "text/xml; charset=utf-8", Body: body}
}

// Verify recomputes the signature over the callback params.
func (a *Adapter) Verify(event *domain.NotificationEvent, creds domain.Credentials) bool {
	if event == nil || len(event.Params) == 0 || creds.APIKey == "" {
		return false
	}
	signType := event.Params["sign_type"]
	if signType == "" {
		signType = creds.SignType
	}
	return VerifySignature(event.Params, creds.APIKey, signType)
}

func currencyOf(params map[string]string) string {
	if c := strings.TrimSpace(params["fee_type"]); c != "" {
		return strings.ToUpper(c)
	}
	return "CNY"
}
