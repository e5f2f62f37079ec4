package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Header names carried by provider notifications.
const (
	headerTimestamp = "Wechatpay-Timestamp"
	headerNonce     = "Wechatpay-Nonce"
	headerSignature = "Wechatpay-Signature"
)

// maxNotificationSkew bounds how old a signed notification may be.
// Anything outside the window is treated as a replay.
const maxNotificationSkew = 5 * time.Minute

// WepayConfig configures the provider client. All fields are required for
// the gateway to be available.
type WepayConfig struct {
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	AppID     string `yaml:"app_id" env:"APP_ID"`
	MchID     string `yaml:"mch_id" env:"MCH_ID"`
	APIKey    string `yaml:"api_key" env:"API_KEY"`
	NotifyURL string `yaml:"notify_url" env:"NOTIFY_URL"`
}

func (c WepayConfig) complete() bool {
	return c.BaseURL != "" && c.AppID != "" && c.MchID != "" && c.APIKey != "" && c.NotifyURL != ""
}

// Wepay is a v3-style JSAPI payment client. Requests and notifications are
// authenticated with an HMAC-SHA256 over timestamp, nonce and body, keyed
// by the shared API key.
type Wepay struct {
	cfg    WepayConfig
	client *http.Client
	lg     *zap.Logger
	now    func() time.Time
}

// NewWepay builds the gateway. It never fails on incomplete configuration;
// Available reports that and CreateIntent refuses.
func NewWepay(cfg WepayConfig, lg *zap.Logger) *Wepay {
	return &Wepay{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		lg:     lg,
		now:    time.Now,
	}
}

func (w *Wepay) Available() bool { return w.cfg.complete() }

type createIntentRequest struct {
	AppID       string `json:"appid"`
	MchID       string `json:"mchid"`
	Description string `json:"description"`
	OutTradeNo  string `json:"out_trade_no"`
	NotifyURL   string `json:"notify_url"`
	Amount      struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
	Payer struct {
		OpenID string `json:"openid"`
	} `json:"payer"`
}

type createIntentResponse struct {
	PrepayID string `json:"prepay_id"`
}

func (w *Wepay) CreateIntent(ctx context.Context, orderNo string, amountMinor int64, payerRef string) (*Intent, error) {
	if !w.Available() {
		return nil, ErrUnavailable
	}

	reqBody := createIntentRequest{
		AppID:       w.cfg.AppID,
		MchID:       w.cfg.MchID,
		Description: "order " + orderNo,
		OutTradeNo:  orderNo,
		NotifyURL:   w.cfg.NotifyURL,
	}
	reqBody.Amount.Total = amountMinor
	reqBody.Amount.Currency = "CNY"
	reqBody.Payer.OpenID = payerRef

	var resp createIntentResponse
	if err := w.post(ctx, "/v3/pay/transactions/jsapi", reqBody, &resp); err != nil {
		return nil, &GatewayError{Op: "create intent", Err: err}
	}
	if resp.PrepayID == "" {
		return nil, &GatewayError{Op: "create intent", Err: errors.New("empty prepay_id")}
	}

	nonce := newNonce()
	ts := strconv.FormatInt(w.now().Unix(), 10)
	pkg := "prepay_id=" + resp.PrepayID

	return &Intent{
		PrepayID:  resp.PrepayID,
		Nonce:     nonce,
		Timestamp: ts,
		Package:   pkg,
		SignType:  "HMAC-SHA256",
		PaySign:   w.sign(w.cfg.AppID + "\n" + ts + "\n" + nonce + "\n" + pkg + "\n"),
	}, nil
}

// transaction is the provider's wire shape for both query responses and
// pushed notifications.
type transaction struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TradeState    string `json:"trade_state"`
	SuccessTime   string `json:"success_time"`
	Amount        struct {
		Total int64 `json:"total"`
	} `json:"amount"`
}

func (t transaction) notification() (*Notification, error) {
	n := &Notification{
		OrderNo:       t.OutTradeNo,
		TransactionID: t.TransactionID,
		Status:        Status(t.TradeState),
		AmountMinor:   t.Amount.Total,
	}
	if t.SuccessTime != "" {
		paidAt, err := time.Parse(time.RFC3339, t.SuccessTime)
		if err != nil {
			return nil, errors.Wrap(err, "parse success_time")
		}
		n.PaidAt = paidAt
	}
	return n, nil
}

func (w *Wepay) QueryStatus(ctx context.Context, orderNo string) (*Notification, error) {
	if !w.Available() {
		return nil, ErrUnavailable
	}

	url := w.cfg.BaseURL + "/v3/pay/transactions/out-trade-no/" + orderNo + "?mchid=" + w.cfg.MchID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &GatewayError{Op: "query status", Err: err}
	}

	var tx transaction
	if err := w.do(req, &tx); err != nil {
		return nil, &GatewayError{Op: "query status", Err: err}
	}
	return tx.notification()
}

func (w *Wepay) ParseNotification(header http.Header, body []byte) (*Notification, error) {
	ts := header.Get(headerTimestamp)
	nonce := header.Get(headerNonce)
	sig := header.Get(headerSignature)
	if ts == "" || nonce == "" || sig == "" {
		return nil, ErrBadSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrBadSignature
	}
	if age := w.now().Sub(time.Unix(unix, 0)); age > maxNotificationSkew || age < -maxNotificationSkew {
		return nil, ErrBadSignature
	}

	want := w.sign(ts + "\n" + nonce + "\n" + string(body) + "\n")
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return nil, ErrBadSignature
	}

	var tx transaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, errors.Wrap(err, "decode notification")
	}
	return tx.notification()
}

// sign computes the hex HMAC-SHA256 of msg under the shared API key.
func (w *Wepay) sign(msg string) string {
	mac := hmac.New(sha256.New, []byte(w.cfg.APIKey))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func (w *Wepay) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.do(req, out)
}

func (w *Wepay) do(req *http.Request, out any) error {
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		w.lg.Warn("provider request failed",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func newNonce() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}
