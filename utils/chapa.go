package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"lwie/services"
)

// ChapaClient talks to the Chapa transaction API.
type ChapaClient struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
	client    *fasthttp.Client
	logger    logrus.FieldLogger
}

func NewChapaClient(baseURL, secretKey string, timeout time.Duration, logger logrus.FieldLogger) *ChapaClient {
	return &ChapaClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		timeout:   timeout,
		client: &fasthttp.Client{
			Name:                "lwie-backend",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		logger: logger,
	}
}

func (c *ChapaClient) Name() string {
	return "chapa"
}

type chapaInitializeRequest struct {
	Amount      string                 `json:"amount"`
	Currency    string                 `json:"currency"`
	Email       string                 `json:"email"`
	FirstName   string                 `json:"first_name"`
	LastName    string                 `json:"last_name"`
	PhoneNumber string                 `json:"phone_number,omitempty"`
	TxRef       string                 `json:"tx_ref"`
	CallbackURL string                 `json:"callback_url"`
	ReturnURL   string                 `json:"return_url"`
	Title       string                 `json:"title,omitempty"`
	Description string                 `json:"description,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

type chapaInitializeResponse struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    *struct {
		CheckoutURL string `json:"checkout_url"`
	} `json:"data"`
}

// Initialize opens a hosted checkout. It makes exactly one request.
func (c *ChapaClient) Initialize(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error) {
	payload := chapaInitializeRequest{
		Amount:      strconv.Itoa(req.Amount),
		Currency:    req.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.Phone,
		TxRef:       req.TxRef,
		CallbackURL: req.CallbackURL,
		ReturnURL:   req.ReturnURL,
		Title:       req.Title,
		Description: req.Description,
		Meta: map[string]interface{}{
			"posts_count": req.PostsCount,
			"plan_id":     req.PlanID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chapa request: %w", err)
	}

	status, respBody, err := c.do(ctx, fasthttp.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var resp chapaInitializeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.logger.WithFields(logrus.Fields{
			"tx_ref": req.TxRef,
			"status": status,
		}).Error("Unexpected Chapa initialize response")
		return nil, classifyStatus(status, "unreadable initialize response")
	}
	if status < 200 || status >= 300 || resp.Status != "success" || resp.Data == nil || resp.Data.CheckoutURL == "" {
		msg := chapaMessage(resp.Message)
		c.logger.WithFields(logrus.Fields{
			"tx_ref":  req.TxRef,
			"status":  status,
			"message": msg,
		}).Error("Chapa rejected payment initialization")
		return nil, classifyStatus(status, msg)
	}

	return &services.CheckoutSession{CheckoutURL: resp.Data.CheckoutURL}, nil
}

type chapaVerifyResponse struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    *struct {
		Status        string          `json:"status"`
		TxRef         string          `json:"tx_ref"`
		Reference     string          `json:"reference"`
		Amount        flexNumber      `json:"amount"`
		Currency      string          `json:"currency"`
		Title         string          `json:"title"`
		Customization json.RawMessage `json:"customization"`
		Meta          json.RawMessage `json:"meta"`
	} `json:"data"`
}

// Verify looks a transaction up by tx_ref. A definite answer from Chapa,
// including "not found", is returned as a verification; only transport
// failures, throttling and credential problems are errors.
func (c *ChapaClient) Verify(ctx context.Context, txRef, _ string) (*services.ProviderVerification, error) {
	status, respBody, err := c.do(ctx, fasthttp.MethodGet, "/transaction/verify/"+txRef, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return nil, fmt.Errorf("%w: chapa rejected credentials (status %d)", services.ErrProvider, status)
	case status == fasthttp.StatusTooManyRequests || status >= 500:
		return nil, fmt.Errorf("%w: chapa status %d", services.ErrProviderUnavailable, status)
	}

	var resp chapaVerifyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || resp.Status == "" {
		c.logger.WithFields(logrus.Fields{
			"tx_ref": txRef,
			"status": status,
		}).Error("Unexpected Chapa verify response")
		return nil, fmt.Errorf("%w: unreadable verify response (status %d)", services.ErrProvider, status)
	}

	v := &services.ProviderVerification{
		Status:  resp.Status,
		Message: chapaMessage(resp.Message),
	}
	if status >= 400 && v.Status == services.ProviderStatusSuccess {
		v.Status = services.ProviderStatusFailed
	}
	if resp.Data != nil {
		v.PaymentStatus = resp.Data.Status
		v.Amount = int(math.Round(float64(resp.Data.Amount)))
		v.Currency = resp.Data.Currency
		v.ProviderRef = resp.Data.Reference
		v.Title = resp.Data.Title
		if v.Title == "" {
			v.Title = customizationTitle(resp.Data.Customization)
		}
		v.PostsCount = metaPostsCount(resp.Data.Meta)
	}
	return v, nil
}

func (c *ChapaClient) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", services.ErrProviderUnavailable, err)
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.secretKey)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(body)
	}

	start := time.Now()
	if err := c.client.DoTimeout(req, resp, timeout); err != nil {
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"error":  err,
		}).Warn("Chapa request failed")
		return 0, nil, fmt.Errorf("%w: %v", services.ErrProviderUnavailable, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":  method,
		"path":    path,
		"status":  resp.StatusCode(),
		"latency": time.Since(start),
	}).Debug("Chapa request completed")

	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

func classifyStatus(status int, msg string) error {
	if status == fasthttp.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: chapa status %d: %s", services.ErrProviderUnavailable, status, msg)
	}
	return fmt.Errorf("%w: chapa status %d: %s", services.ErrProvider, status, msg)
}

// chapaMessage flattens Chapa's message, which is either a string or a map
// of field validation errors.
func chapaMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var fields map[string][]string
	if err := json.Unmarshal(raw, &fields); err == nil {
		var parts []string
		for field, errs := range fields {
			parts = append(parts, field+": "+strings.Join(errs, "; "))
		}
		return strings.Join(parts, ", ")
	}
	return string(raw)
}

func customizationTitle(raw json.RawMessage) string {
	var c struct {
		Title string `json:"title"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &c) != nil {
		return ""
	}
	return c.Title
}

func metaPostsCount(raw json.RawMessage) int {
	var meta struct {
		PostsCount flexNumber `json:"posts_count"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &meta) != nil {
		return 0
	}
	n := int(meta.PostsCount)
	if n < 0 {
		return 0
	}
	return n
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexNumber(v)
	return nil
}
