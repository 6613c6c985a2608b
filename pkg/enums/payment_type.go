package enums

import "slices"

// PaymentType selects the gateway variant used to collect an intent.
type PaymentType string

const (
	PaymentTypeDomesticCard        PaymentType = "domestic_card"
	PaymentTypeBankTransfer        PaymentType = "bank_transfer"
	PaymentTypeInternationalWallet PaymentType = "international_wallet"
	PaymentTypeManual              PaymentType = "manual"
)

var validPaymentTypes = []PaymentType{
	PaymentTypeDomesticCard,
	PaymentTypeBankTransfer,
	PaymentTypeInternationalWallet,
	PaymentTypeManual,
}

// String implements fmt.Stringer.
func (p PaymentType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentType.
func (p PaymentType) IsValid() bool {
	return slices.Contains(validPaymentTypes, p)
}

// Provider returns the payment provider that serves the payment type.
func (p PaymentType) Provider() PaymentProvider {
	switch p {
	case PaymentTypeDomesticCard, PaymentTypeBankTransfer:
		return PaymentProviderToss
	case PaymentTypeInternationalWallet:
		return PaymentProviderPayPal
	default:
		return PaymentProviderManual
	}
}

// ParsePaymentType converts raw input into a PaymentType.
func ParsePaymentType(value string) (PaymentType, error) {
	return parseEnum("payment type", validPaymentTypes, value)
}

// PaymentProvider names the external processor behind a gateway.
type PaymentProvider string

const (
	PaymentProviderToss   PaymentProvider = "toss"
	PaymentProviderPayPal PaymentProvider = "paypal"
	PaymentProviderManual PaymentProvider = "manual"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderToss,
	PaymentProviderPayPal,
	PaymentProviderManual,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	return slices.Contains(validPaymentProviders, p)
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	return parseEnum("payment provider", validPaymentProviders, value)
}
