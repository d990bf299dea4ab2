package domain

import "github.com/shopspring/decimal"

// IntentKind classifies what a scanned or pasted payload represents.
type IntentKind int

const (
	// KindUnrecognized marks input that is not a payment payload at all.
	KindUnrecognized IntentKind = iota
	// KindPaymentRequest is a request to move funds to a recipient.
	KindPaymentRequest
	// KindUserProfile points at a user without carrying an amount.
	KindUserProfile
)

func (k IntentKind) String() string {
	switch k {
	case KindPaymentRequest:
		return "PAYMENT_REQUEST"
	case KindUserProfile:
		return "USER_PROFILE"
	default:
		return "UNRECOGNIZED"
	}
}

// SourceFormat records which recognition rule produced an intent.
type SourceFormat int

const (
	FormatFreeText SourceFormat = iota
	FormatWebURL
	FormatCustomScheme
	FormatUsernameShorthand
)

func (f SourceFormat) String() string {
	switch f {
	case FormatWebURL:
		return "WEB_URL"
	case FormatCustomScheme:
		return "CUSTOM_SCHEME"
	case FormatUsernameShorthand:
		return "USERNAME_SHORTHAND"
	default:
		return "FREE_TEXT"
	}
}

// PaymentIntent is the canonical parsed form of a raw payment payload.
// It is constructed once by the parser and treated as immutable afterwards;
// it is never persisted.
type PaymentIntent struct {
	Kind            IntentKind
	RecipientHandle string
	Amount          decimal.NullDecimal
	Currency        string
	Description     string
	SourceFormat    SourceFormat
	RawPayload      string
}
