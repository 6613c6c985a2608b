package payments

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	paymentsvc "github.com/angelmondragon/eventpay-backend/internal/payments"
	"github.com/angelmondragon/eventpay-backend/pkg/db/models"
)

type paymentResponse struct {
	OrderID         string          `json:"orderId"`
	RegistrationID  uuid.UUID       `json:"registrationId"`
	EventID         uuid.UUID       `json:"eventId"`
	UserID          *uuid.UUID      `json:"userId,omitempty"`
	PaymentType     string          `json:"paymentType"`
	Provider        string          `json:"provider"`
	Status          string          `json:"status"`
	Currency        string          `json:"currency"`
	Amount          int64           `json:"amount"`
	TaxFreeAmount   int64           `json:"taxFreeAmount"`
	SuppliedAmount  int64           `json:"suppliedAmount"`
	VAT             int64           `json:"vat"`
	RefundedAmount  int64           `json:"refundedAmount"`
	RemainingAmount int64           `json:"remainingAmount"`
	OrderName       string          `json:"orderName"`
	ProviderOrderID *string         `json:"providerOrderId,omitempty"`
	CancelReason    *string         `json:"cancelReason,omitempty"`
	ReceiptURL      *string         `json:"receiptUrl,omitempty"`
	Note            *string         `json:"note,omitempty"`
	ManualDetails   json.RawMessage `json:"manualDetails,omitempty"`
	RequestedAt     *time.Time      `json:"requestedAt,omitempty"`
	ApprovedAt      *time.Time      `json:"approvedAt,omitempty"`
	CanceledAt      *time.Time      `json:"canceledAt,omitempty"`
	ClosedAt        *time.Time      `json:"closedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func newPaymentResponse(p *models.PaymentIntent) *paymentResponse {
	if p == nil {
		return nil
	}
	return &paymentResponse{
		OrderID:         p.OrderID,
		RegistrationID:  p.RegistrationID,
		EventID:         p.EventID,
		UserID:          p.UserID,
		PaymentType:     p.PaymentType.String(),
		Provider:        p.Provider.String(),
		Status:          p.Status.String(),
		Currency:        string(p.Currency),
		Amount:          p.Amount,
		TaxFreeAmount:   p.TaxFreeAmount,
		SuppliedAmount:  p.SuppliedAmount,
		VAT:             p.VAT,
		RefundedAmount:  p.RefundedAmount,
		RemainingAmount: p.RemainingAmount(),
		OrderName:       p.OrderName,
		ProviderOrderID: p.ProviderOrderID,
		CancelReason:    p.CancelReason,
		ReceiptURL:      p.ReceiptURL,
		Note:            p.Note,
		ManualDetails:   p.ManualDetails,
		RequestedAt:     p.RequestedAt,
		ApprovedAt:      p.ApprovedAt,
		CanceledAt:      p.CanceledAt,
		ClosedAt:        p.ClosedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

type checkoutResponse struct {
	Payment  *paymentResponse     `json:"payment"`
	Checkout *paymentsvc.Checkout `json:"checkout"`
}

type paymentListResponse struct {
	Items      []paymentResponse `json:"items"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

func newPaymentListResponse(list *paymentsvc.IntentList) paymentListResponse {
	resp := paymentListResponse{Items: []paymentResponse{}}
	if list == nil {
		return resp
	}
	resp.NextCursor = list.NextCursor
	for i := range list.Items {
		resp.Items = append(resp.Items, *newPaymentResponse(&list.Items[i]))
	}
	return resp
}

type historyEntryResponse struct {
	Type        string          `json:"type"`
	Amount      int64           `json:"amount"`
	FromStatus  *string         `json:"fromStatus,omitempty"`
	ToStatus    string          `json:"toStatus"`
	ActorUserID *uuid.UUID      `json:"actorUserId,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func newHistoryResponse(events []models.LedgerEvent) []historyEntryResponse {
	out := make([]historyEntryResponse, 0, len(events))
	for _, e := range events {
		entry := historyEntryResponse{
			Type:        string(e.Type),
			Amount:      e.Amount,
			ToStatus:    e.ToStatus.String(),
			ActorUserID: e.ActorUserID,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
		}
		if e.FromStatus != nil {
			from := e.FromStatus.String()
			entry.FromStatus = &from
		}
		out = append(out, entry)
	}
	return out
}
