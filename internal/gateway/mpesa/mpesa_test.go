package mpesa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	tokenCalls atomic.Int32
	pushCalls  atomic.Int32
	lastPush   stkPushBody
	pushStatus int
	pushBody   string
	delay      time.Duration
}

func (f *fakeGateway) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		f.pushCalls.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastPush))
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		w.WriteHeader(f.pushStatus)
		_, _ = w.Write([]byte(f.pushBody))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeGateway, timeout time.Duration) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "pass",
		Timeout:        timeout,
	}, srv.Client())
	c.now = func() time.Time { return time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC) }
	return c
}

func pushRequest() PushRequest {
	return PushRequest{
		PhoneNumber:      "254712345678",
		Amount:           decimal.NewFromInt(5000),
		AccountReference: "HOUSE_12",
		TransactionDesc:  "Rent",
		CallbackURL:      "https://example.test/api/payments/callback/",
	}
}

func TestPasswordDerivation(t *testing.T) {
	assert.Equal(t, "MTc0Mzc5cGFzczIwMjQwNTAxMDkzMDE1", Password("174379", "pass", "20240501093015"))
}

func TestInitiatePushAccepted(t *testing.T) {
	f := &fakeGateway{
		pushStatus: http.StatusOK,
		pushBody:   `{"MerchantRequestID":"m-1","CheckoutRequestID":"c-1","ResponseCode":"0","ResponseDescription":"Success","CustomerMessage":"Success. Request accepted for processing"}`,
	}
	c := newTestClient(t, f, time.Second)

	res, err := c.InitiatePush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "m-1", res.MerchantRequestID)
	assert.Equal(t, "c-1", res.CheckoutRequestID)

	assert.Equal(t, "20240501093015", f.lastPush.Timestamp)
	assert.Equal(t, Password("174379", "pass", "20240501093015"), f.lastPush.Password)
	assert.EqualValues(t, 5000, f.lastPush.Amount)
	assert.Equal(t, "254712345678", f.lastPush.PartyA)
	assert.Equal(t, "174379", f.lastPush.PartyB)

	_, err = c.InitiatePush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokenCalls.Load(), "token should be cached")
	assert.EqualValues(t, 2, f.pushCalls.Load())
}

func TestInitiatePushRejected(t *testing.T) {
	f := &fakeGateway{
		pushStatus: http.StatusBadRequest,
		pushBody:   `{"requestId":"r","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid PhoneNumber"}`,
	}
	c := newTestClient(t, f, time.Second)

	res, err := c.InitiatePush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", res.Description)
}

func TestInitiatePushUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		f := &fakeGateway{pushStatus: http.StatusBadGateway, pushBody: `oops`}
		c := newTestClient(t, f, time.Second)
		_, err := c.InitiatePush(context.Background(), pushRequest())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("timeout", func(t *testing.T) {
		f := &fakeGateway{pushStatus: http.StatusOK, pushBody: `{}`, delay: 300 * time.Millisecond}
		c := newTestClient(t, f, 50*time.Millisecond)
		_, err := c.InitiatePush(context.Background(), pushRequest())
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("breaker opens", func(t *testing.T) {
		f := &fakeGateway{pushStatus: http.StatusServiceUnavailable}
		c := newTestClient(t, f, time.Second)
		for i := 0; i < 5; i++ {
			_, err := c.InitiatePush(context.Background(), pushRequest())
			require.ErrorIs(t, err, ErrUnavailable)
		}
		_, err := c.InitiatePush(context.Background(), pushRequest())
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.EqualValues(t, 5, f.pushCalls.Load())
	})
}

func TestSimulatedAcceptsEveryPush(t *testing.T) {
	res, err := Simulated{}.InitiatePush(context.Background(), pushRequest())
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.NotEmpty(t, res.MerchantRequestID)
	assert.NotEqual(t, res.MerchantRequestID, res.CheckoutRequestID)
	assert.Len(t, SyntheticReceipt(), 13)
}

func TestCallbackLookup(t *testing.T) {
	raw := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"c-1","ResultCode":0,"ResultDesc":"ok",
		"CallbackMetadata":{"Item":[{"Name":"Amount","Value":5000},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`
	var cb Callback
	require.NoError(t, json.Unmarshal([]byte(raw), &cb))

	receipt, ok := cb.Body.StkCallback.Lookup(ReceiptItem)
	require.True(t, ok)
	assert.Equal(t, "NLJ7RT61SV", receipt)

	phone, ok := cb.Body.StkCallback.Lookup("PhoneNumber")
	require.True(t, ok)
	assert.Equal(t, "254712345678", phone)

	_, ok = cb.Body.StkCallback.Lookup("Missing")
	assert.False(t, ok)
}
