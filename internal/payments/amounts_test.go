package payments

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
)

func TestComputeVAT(t *testing.T) {
	cases := []struct {
		amount, taxFree, vat int64
	}{
		{110000, 0, 10000},
		{50000, 0, 4545},
		{55, 0, 5},
		{60, 0, 5},
		{61, 0, 6},
		{110000, 110000, 0},
		{30000, 8000, 2000},
	}
	for _, tc := range cases {
		if got := ComputeVAT(tc.amount, tc.taxFree); got != tc.vat {
			t.Fatalf("ComputeVAT(%d, %d) = %d, want %d", tc.amount, tc.taxFree, got, tc.vat)
		}
	}
}

func TestSplitAmount(t *testing.T) {
	supplied, vat, err := SplitAmount(110000, 0)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if supplied != 100000 || vat != 10000 {
		t.Fatalf("unexpected split %d/%d", supplied, vat)
	}

	for _, tc := range [][2]int64{{0, 0}, {-5, 0}, {100, -1}, {100, 101}} {
		if _, _, err := SplitAmount(tc[0], tc[1]); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("SplitAmount(%d, %d): expected validation error, got %v", tc[0], tc[1], err)
		}
	}
}

func TestValidateManualSplit(t *testing.T) {
	if err := ValidateManualSplit(110000, 100000, 10000); err != nil {
		t.Fatalf("expected valid split: %v", err)
	}
	if err := ValidateManualSplit(110000, 100001, 10000); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := ValidateManualSplit(100, 110, -10); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for negative vat, got %v", err)
	}
}

var orderIDPattern = regexp.MustCompile(`^[0-9]{6}[0-9a-z]{8}$`)

func TestNewOrderIDFormat(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 7, 3, 0, time.UTC)
	id, err := NewOrderID(now, nil)
	if err != nil {
		t.Fatalf("order id: %v", err)
	}
	if !orderIDPattern.MatchString(id) {
		t.Fatalf("unexpected order id %q", id)
	}
	if id[:6] != "090703" {
		t.Fatalf("expected time prefix 090703, got %q", id[:6])
	}
}

func TestNewOrderIDSkipsBiasedBytes(t *testing.T) {
	// 0xFF and 0xFC fall in the rejected tail; 0 -> '0', 35 -> 'z', 36 -> '0', 71 -> 'z'.
	src := append([]byte{0xFF, 0xFC, 0, 35, 36, 71, 10, 11, 12, 13}, make([]byte, 6)...)
	id, err := NewOrderID(time.Date(2026, 1, 1, 23, 59, 58, 0, time.UTC), bytes.NewReader(src))
	if err != nil {
		t.Fatalf("order id: %v", err)
	}
	if id != "235958"+"0z0zabcd" {
		t.Fatalf("unexpected order id %q", id)
	}
}

func TestNewOrderIDShortReader(t *testing.T) {
	if _, err := NewOrderID(time.Now(), bytes.NewReader([]byte{1, 2})); err == nil {
		t.Fatalf("expected error from exhausted reader")
	}
}
