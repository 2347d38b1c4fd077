package httpserver

import (
	"net/http"

	"github.com/shopspring/decimal"

	"househunter/internal/domain"
	"househunter/internal/gateway/mpesa"
	"househunter/internal/service"
)

type initiatePaymentRequest struct {
	PhoneNumber      string          `json:"phone_number"`
	Amount           decimal.Decimal `json:"amount"`
	AccountReference string          `json:"account_reference"`
	TransactionDesc  string          `json:"transaction_desc"`
	ListingID        *int64          `json:"listing_id"`
	HouseID          *int64          `json:"house_id"`
}

func handleInitiatePayment(paymentSvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiatePaymentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := paymentSvc.Initiate(r.Context(), CurrentUser(r), service.InitiateInput{
			PhoneNumber:      req.PhoneNumber,
			Amount:           req.Amount,
			AccountReference: req.AccountReference,
			TransactionDesc:  req.TransactionDesc,
			ListingID:        either(req.ListingID, req.HouseID),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handlePaymentCallback receives the gateway's asynchronous result. The
// gateway only needs an acknowledgement; the payment is reconciled here.
func handlePaymentCallback(paymentSvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cb mpesa.Callback
		if err := decodeJSON(r, &cb); err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := paymentSvc.HandleCallback(r.Context(), &cb.Body.StkCallback); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ResultCode": 0,
			"ResultDesc": "Accepted",
		})
	}
}

func handleListPayments(paymentSvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payments, err := paymentSvc.ListMine(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if payments == nil {
			payments = []*domain.Payment{}
		}
		writeJSON(w, http.StatusOK, payments)
	}
}

func handleGetPayment(paymentSvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "paymentID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		p, err := paymentSvc.Get(r.Context(), CurrentUser(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

type simulateRequest struct {
	PaymentID int64 `json:"payment_id"`
}

func handleSimulateSuccess(paymentSvc *service.PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.PaymentID <= 0 {
			badRequest(w, "payment_id is required")
			return
		}
		p, err := paymentSvc.SimulateSuccess(r.Context(), CurrentUser(r), req.PaymentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
