// Package mpesa talks to an M-Pesa style push-payment (STK push) gateway.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"househunter/internal/logger"
)

// ErrUnavailable means the gateway could not be reached or answered with a
// server error. The push may or may not have been delivered.
var ErrUnavailable = errors.New("payment gateway unavailable")

const timestampLayout = "20060102150405"

// PushRequest is one STK push.
type PushRequest struct {
	PhoneNumber string
	// Amount is sent in whole units; callers reject fractions.
	Amount           decimal.Decimal
	AccountReference string
	TransactionDesc  string
	CallbackURL      string
}

// PushResult is the gateway's synchronous answer. Accepted=false is an
// immediate rejection with Description explaining why.
type PushResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	Accepted          bool
	Description       string
}

// Gateway initiates push payments.
type Gateway interface {
	InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	Timeout        time.Duration
}

// Client is the HTTP implementation of Gateway. Access tokens are cached
// until shortly before they expire; pushes run behind a circuit breaker.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mpesa",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, ErrUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.GetLogger().Warn("gateway circuit state changed",
					zap.String("breaker", name), zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
		now: time.Now,
	}
}

// Password derives the per-request STK password.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

type stkPushBody struct {
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

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorCode           string `json:"errorCode"`
	ErrorMessage        string `json:"errorMessage"`
}

// InitiatePush sends one STK push, bounded by the configured timeout.
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.push(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*PushResult), nil
}

func (c *Client) push(ctx context.Context, req PushRequest) (*PushResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	ts := c.now().Format(timestampLayout)
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.IntPart(),
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       req.CallbackURL,
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.TransactionDesc,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode stk push: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stk push: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var decoded stkPushResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 || decoded.ResponseCode != "0" {
		desc := decoded.ErrorMessage
		if desc == "" {
			desc = decoded.ResponseDescription
		}
		if desc == "" {
			desc = "push request rejected (status " + strconv.Itoa(resp.StatusCode) + ")"
		}
		return &PushResult{Accepted: false, Description: desc}, nil
	}

	return &PushResult{
		MerchantRequestID: decoded.MerchantRequestID,
		CheckoutRequestID: decoded.CheckoutRequestID,
		Accepted:          true,
		Description:       decoded.CustomerMessage,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns the cached OAuth token or fetches a new one,
// retrying transient failures with exponential backoff.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	var tok tokenResponse
	op := func() error {
		var err error
		tok, err = c.fetchToken(ctx)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	c.token = tok.AccessToken
	c.tokenExp = c.now().Add(ttl - time.Minute)
	return c.token, nil
}

func (c *Client) fetchToken(ctx context.Context) (tokenResponse, error) {
	var tok tokenResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return tok, backoff.Permanent(fmt.Errorf("build token request: %w", err))
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return tok, fmt.Errorf("%w: token request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return tok, fmt.Errorf("%w: token status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return tok, backoff.Permanent(fmt.Errorf("%w: token rejected with status %d", ErrUnavailable, resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return tok, backoff.Permanent(fmt.Errorf("%w: malformed token response", ErrUnavailable))
	}
	return tok, nil
}
