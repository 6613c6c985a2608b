package payments

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
)

const (
	orderIDAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
	orderIDRandomLen = 8
	// largest multiple of 36 below 256; bytes above it are rejected to keep the draw uniform.
	orderIDByteLimit = 252
)

var eleven = decimal.NewFromInt(11)

// ComputeVAT returns round((amount - taxFree) / 11) with halves rounded up.
func ComputeVAT(amount, taxFree int64) int64 {
	taxable := decimal.NewFromInt(amount - taxFree)
	return taxable.Div(eleven).Round(0).IntPart()
}

// SplitAmount validates the pair and returns the supplied amount and VAT.
func SplitAmount(amount, taxFree int64) (supplied int64, vat int64, err error) {
	if amount <= 0 {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if taxFree < 0 || taxFree > amount {
		return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "tax free amount must be between 0 and amount")
	}
	vat = ComputeVAT(amount, taxFree)
	return amount - vat, vat, nil
}

// ValidateManualSplit checks an admin-entered supply/VAT pair against the total.
func ValidateManualSplit(amount, supplied, vat int64) error {
	if supplied < 0 || vat < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "supplied amount and vat must not be negative")
	}
	if supplied+vat != amount {
		return pkgerrors.New(pkgerrors.CodeValidation, "supplied amount and vat must add up to amount").WithDetails(map[string]any{
			"amount":   amount,
			"supplied": supplied,
			"vat":      vat,
		})
	}
	return nil
}

// NewOrderID returns HHMMSS of now followed by 8 random base36 characters.
// A nil reader falls back to crypto/rand.
func NewOrderID(now time.Time, rnd io.Reader) (string, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	out := make([]byte, 0, 6+orderIDRandomLen)
	out = append(out, now.Format("150405")...)

	buf := make([]byte, 16)
	for len(out) < cap(out) {
		if _, err := io.ReadFull(rnd, buf); err != nil {
			return "", fmt.Errorf("generate order id: %w", err)
		}
		for _, b := range buf {
			if b >= orderIDByteLimit {
				continue
			}
			out = append(out, orderIDAlphabet[int(b)%len(orderIDAlphabet)])
			if len(out) == cap(out) {
				break
			}
		}
	}
	return string(out), nil
}
