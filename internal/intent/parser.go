package intent

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tomide/paylink/backend/internal/domain"
)

var (
	// ErrTooLong rejects oversized payloads before any pattern matching runs.
	ErrTooLong = errors.New("payload exceeds maximum length")
	// ErrMalformedURL marks a string that starts with a URL scheme but does
	// not parse as a URL at all.
	ErrMalformedURL = errors.New("malformed url payload")
)

// Parser turns a raw untrusted string into a typed PaymentIntent. Parsing is
// a pure function over its input: no side effects, identical output for
// identical input. Input that matches no recognition rule yields an intent
// of kind Unrecognized rather than an error; only genuinely malformed input
// fails hard.
type Parser struct {
	grammar *Grammar
}

// NewParser constructs a Parser over the shared grammar.
func NewParser(grammar *Grammar) *Parser {
	return &Parser{grammar: grammar}
}

// Parse classifies and extracts a payment intent from raw input. The
// original payload is retained verbatim on the intent for audit purposes.
func (p *Parser) Parse(raw string) (domain.PaymentIntent, error) {
	if len(raw) > maxPayloadLength {
		return domain.PaymentIntent{}, fmt.Errorf("%w: %d bytes", ErrTooLong, len(raw))
	}

	trimmed := strings.TrimSpace(raw)

	if hasHTTPPrefix(trimmed) {
		u, err := url.Parse(trimmed)
		if err != nil {
			return domain.PaymentIntent{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
		}
		if p.grammar.HostAllowed(u.Host) {
			return p.parseWebURL(raw, u), nil
		}
		// Not one of ours; fall through to the remaining rules.
	}

	if strings.HasPrefix(strings.ToLower(trimmed), p.grammar.SchemePrefix()) {
		u, err := url.Parse(trimmed)
		if err != nil {
			return domain.PaymentIntent{}, fmt.Errorf("%w: %v", ErrMalformedURL, err)
		}
		if intent, ok := p.parseCustomScheme(raw, u); ok {
			return intent, nil
		}
	}

	if p.grammar.MatchesShorthand(trimmed) {
		return domain.PaymentIntent{
			Kind:            domain.KindUserProfile,
			RecipientHandle: NormalizeHandle(trimmed),
			SourceFormat:    domain.FormatUsernameShorthand,
			RawPayload:      raw,
		}, nil
	}

	if intent, ok := p.parseFreeText(raw, trimmed); ok {
		return intent, nil
	}

	return domain.PaymentIntent{
		Kind:         domain.KindUnrecognized,
		SourceFormat: domain.FormatFreeText,
		RawPayload:   raw,
	}, nil
}

// parseWebURL extracts a payment request from an allow-listed link of the
// form https://host/.../<handle>?amount=&currency=&description=.
func (p *Parser) parseWebURL(raw string, u *url.URL) domain.PaymentIntent {
	intent := domain.PaymentIntent{
		Kind:         domain.KindPaymentRequest,
		SourceFormat: domain.FormatWebURL,
		RawPayload:   raw,
	}
	intent.RecipientHandle = NormalizeHandle(lastPathSegment(u.Path))
	p.applyQuery(&intent, u.Query())
	p.applyDefaults(&intent)
	return intent
}

// parseCustomScheme extracts a payment request from a deep link of the form
// scheme://pay/<handle>. Links under the scheme that do not target the pay
// surface are not payment payloads.
func (p *Parser) parseCustomScheme(raw string, u *url.URL) (domain.PaymentIntent, bool) {
	if !strings.EqualFold(u.Host, "pay") {
		return domain.PaymentIntent{}, false
	}
	handle := lastPathSegment(u.Path)
	if handle == "" {
		return domain.PaymentIntent{}, false
	}

	intent := domain.PaymentIntent{
		Kind:            domain.KindPaymentRequest,
		RecipientHandle: NormalizeHandle(handle),
		SourceFormat:    domain.FormatCustomScheme,
		RawPayload:      raw,
	}
	p.applyQuery(&intent, u.Query())
	p.applyDefaults(&intent)
	return intent, true
}

// parseFreeText recognizes typed text that names an @handle together with
// either a supported currency token or a $-prefixed number.
func (p *Parser) parseFreeText(raw, trimmed string) (domain.PaymentIntent, bool) {
	handle := p.grammar.FindHandle(trimmed)
	if handle == "" {
		return domain.PaymentIntent{}, false
	}
	currency := p.grammar.FindCurrency(trimmed)
	if currency == "" && !p.grammar.HasDollarAmount(trimmed) {
		return domain.PaymentIntent{}, false
	}

	intent := domain.PaymentIntent{
		Kind:            domain.KindPaymentRequest,
		RecipientHandle: NormalizeHandle(handle),
		Currency:        currency,
		SourceFormat:    domain.FormatFreeText,
		RawPayload:      raw,
	}
	if amount, ok := p.grammar.FindAmount(trimmed); ok {
		intent.Amount = decimal.NullDecimal{Decimal: amount, Valid: true}
	}
	p.applyDefaults(&intent)
	return intent, true
}

func (p *Parser) applyQuery(intent *domain.PaymentIntent, query url.Values) {
	if v := query.Get("amount"); v != "" {
		if amount, err := decimal.NewFromString(v); err == nil {
			intent.Amount = decimal.NullDecimal{Decimal: ClampAmount(amount), Valid: true}
		}
	}
	if v := query.Get("currency"); v != "" {
		intent.Currency = strings.ToUpper(strings.TrimSpace(v))
	}
	if v := query.Get("description"); v != "" {
		intent.Description = capDescription(v)
	}
}

// applyDefaults fills the currency on payment-bearing intents that named
// none. Profile intents carry no currency.
func (p *Parser) applyDefaults(intent *domain.PaymentIntent) {
	if intent.Kind == domain.KindPaymentRequest && intent.Currency == "" {
		intent.Currency = p.grammar.DefaultCurrency()
	}
}

func capDescription(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDescriptionLength {
		return s[:maxDescriptionLength]
	}
	return s
}

func hasHTTPPrefix(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func lastPathSegment(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	return segments[len(segments)-1]
}
