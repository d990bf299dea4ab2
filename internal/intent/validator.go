package intent

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomide/paylink/backend/internal/domain"
)

// Validator runs structural and security checks over a parsed intent. Every
// rule is evaluated; errors and warnings accumulate rather than
// short-circuit, and each list is emitted in a fixed rule order so identical
// input always produces an identical verdict.
type Validator struct {
	grammar *Grammar
}

// NewValidator constructs a Validator over the shared grammar.
func NewValidator(grammar *Grammar) *Validator {
	return &Validator{grammar: grammar}
}

// Validate produces a verdict for the intent. Warnings never affect
// validity; the verdict is valid exactly when no error rule fired.
func (v *Validator) Validate(intent domain.PaymentIntent) domain.ValidationVerdict {
	var verdict domain.ValidationVerdict

	// Recognized intents must carry a usable recipient handle.
	if intent.Kind != domain.KindUnrecognized {
		stripped := StrippedHandle(intent.RecipientHandle)
		if len(stripped) < minHandleLength || len(stripped) > maxHandleLength {
			verdict.Errors = append(verdict.Errors,
				fmt.Sprintf("invalid recipient handle: must be %d-%d characters", minHandleLength, maxHandleLength))
		}
	}

	// Scheme-injection markers anywhere in the payload invalidate the
	// intent regardless of every other field.
	lowerPayload := strings.ToLower(intent.RawPayload)
	if strings.Contains(lowerPayload, "javascript:") || strings.Contains(lowerPayload, "data:") {
		verdict.Errors = append(verdict.Errors, "payload contains a scheme-injection marker")
	}

	if intent.Amount.Valid && intent.Amount.Decimal.Sign() <= 0 {
		verdict.Warnings = append(verdict.Warnings, "amount must be a positive number")
	}

	if intent.Currency != "" && !v.grammar.KnownCurrency(intent.Currency) {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("unsupported currency %q", intent.Currency))
	}

	if len(intent.RawPayload) > suspiciousPayloadLength {
		verdict.Warnings = append(verdict.Warnings, "payload is suspiciously long")
	}

	if intent.SourceFormat == domain.FormatWebURL {
		if u, err := url.Parse(strings.TrimSpace(intent.RawPayload)); err == nil && v.grammar.IsShortenerHost(u.Host) {
			verdict.Warnings = append(verdict.Warnings, "link uses a URL shortener that hides its destination")
		}
	}

	verdict.Valid = len(verdict.Errors) == 0
	return verdict
}
