package intent

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tomide/paylink/backend/internal/domain"
)

func testRules() Rules {
	return Rules{
		AllowedHosts:    []string{"app.example"},
		Scheme:          "app",
		Currencies:      []string{"USDC", "APT"},
		DefaultCurrency: "USDC",
		ShortenerHosts:  []string{"bit.ly", "tinyurl.com"},
	}
}

func newTestParser() *Parser {
	return NewParser(NewGrammar(testRules()))
}

func TestParseWebURL(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("https://app.example/pay/alice?amount=25.5&currency=USDC")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindPaymentRequest {
		t.Fatalf("expected payment request, got %s", intent.Kind)
	}
	if intent.SourceFormat != domain.FormatWebURL {
		t.Fatalf("expected web url format, got %s", intent.SourceFormat)
	}
	if intent.RecipientHandle != "@alice" {
		t.Errorf("expected handle @alice, got %q", intent.RecipientHandle)
	}
	if !intent.Amount.Valid || !intent.Amount.Decimal.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("expected amount 25.50, got %v", intent.Amount)
	}
	if intent.Currency != "USDC" {
		t.Errorf("expected currency USDC, got %q", intent.Currency)
	}
}

func TestParseWebURLDefaultsCurrency(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("https://app.example/pay/alice?amount=10")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Currency != "USDC" {
		t.Errorf("expected default currency USDC, got %q", intent.Currency)
	}
}

func TestParseWebURLTakesPrecedenceOverFreeText(t *testing.T) {
	parser := newTestParser()

	// The path contains an @mention, but an allow-listed URL must resolve
	// as a web URL, not as free text.
	intent, err := parser.Parse("https://app.example/team/@erin?amount=3")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.SourceFormat != domain.FormatWebURL {
		t.Fatalf("expected web url format, got %s", intent.SourceFormat)
	}
	if intent.RecipientHandle != "@erin" {
		t.Errorf("expected handle @erin, got %q", intent.RecipientHandle)
	}
}

func TestParseForeignURLFallsThrough(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("https://evil.example/pay/alice")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindUnrecognized {
		t.Fatalf("expected unrecognized, got %s", intent.Kind)
	}
}

func TestParseCustomScheme(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("app://pay/Bob?amount=7.25")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.SourceFormat != domain.FormatCustomScheme {
		t.Fatalf("expected custom scheme format, got %s", intent.SourceFormat)
	}
	if intent.RecipientHandle != "@bob" {
		t.Errorf("expected normalized handle @bob, got %q", intent.RecipientHandle)
	}
	if intent.Currency != "USDC" {
		t.Errorf("expected default currency USDC, got %q", intent.Currency)
	}
}

func TestParseCustomSchemeNonPaySurface(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("app://settings/profile")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindUnrecognized {
		t.Fatalf("expected unrecognized, got %s", intent.Kind)
	}
}

func TestParseShorthand(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("@Alice_99")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindUserProfile {
		t.Fatalf("expected user profile, got %s", intent.Kind)
	}
	if intent.SourceFormat != domain.FormatUsernameShorthand {
		t.Fatalf("expected shorthand format, got %s", intent.SourceFormat)
	}
	if intent.RecipientHandle != "@alice_99" {
		t.Errorf("expected lower-cased handle, got %q", intent.RecipientHandle)
	}
	if intent.Amount.Valid {
		t.Errorf("profile intents carry no amount")
	}
	if intent.Currency != "" {
		t.Errorf("profile intents carry no currency, got %q", intent.Currency)
	}
}

func TestParseShortShorthandStillClassifies(t *testing.T) {
	parser := newTestParser()

	// Too short to be a valid username, but classification still succeeds;
	// the validator owns the minimum-length check.
	intent, err := parser.Parse("@bo")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindUserProfile {
		t.Fatalf("expected user profile, got %s", intent.Kind)
	}
}

func TestParseFreeText(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("pay @carol $40 USDC")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindPaymentRequest {
		t.Fatalf("expected payment request, got %s", intent.Kind)
	}
	if intent.SourceFormat != domain.FormatFreeText {
		t.Fatalf("expected free text format, got %s", intent.SourceFormat)
	}
	if intent.RecipientHandle != "@carol" {
		t.Errorf("expected handle @carol, got %q", intent.RecipientHandle)
	}
	if !intent.Amount.Valid || !intent.Amount.Decimal.Equal(decimal.NewFromInt(40)) {
		t.Errorf("expected amount 40.00, got %v", intent.Amount)
	}
	if intent.Currency != "USDC" {
		t.Errorf("expected currency USDC, got %q", intent.Currency)
	}
}

func TestParseFreeTextClampsFractionalDigits(t *testing.T) {
	parser := newTestParser()

	intent, err := parser.Parse("send @carol $40.999")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !intent.Amount.Valid || !intent.Amount.Decimal.Equal(decimal.RequireFromString("40.99")) {
		t.Errorf("expected clamped amount 40.99, got %v", intent.Amount)
	}
}

func TestParseFreeTextRequiresMoneySignal(t *testing.T) {
	parser := newTestParser()

	// An @handle alone inside prose is not a payment payload.
	intent, err := parser.Parse("say hi to @carol for me")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.Kind != domain.KindUnrecognized {
		t.Fatalf("expected unrecognized, got %s", intent.Kind)
	}
}

func TestParseTooLong(t *testing.T) {
	parser := newTestParser()

	_, err := parser.Parse(strings.Repeat("a", maxPayloadLength+1))
	if !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestParseMalformedURL(t *testing.T) {
	parser := newTestParser()

	_, err := parser.Parse("https://[::1")
	if !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("expected ErrMalformedURL, got %v", err)
	}
}

func TestParseIsPure(t *testing.T) {
	parser := newTestParser()
	raw := "https://app.example/pay/alice?amount=25.5&currency=USDC&description=lunch"

	first, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	second, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical intents, got %+v vs %+v", first, second)
	}
}

func TestParseRetainsRawPayload(t *testing.T) {
	parser := newTestParser()
	raw := "  @dave  "

	intent, err := parser.Parse(raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if intent.RawPayload != raw {
		t.Errorf("expected untouched raw payload %q, got %q", raw, intent.RawPayload)
	}
}

func TestParseCapsDescription(t *testing.T) {
	parser := newTestParser()
	long := strings.Repeat("x", maxDescriptionLength+50)

	intent, err := parser.Parse("https://app.example/pay/alice?description=" + long)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(intent.Description) != maxDescriptionLength {
		t.Errorf("expected description capped at %d, got %d", maxDescriptionLength, len(intent.Description))
	}
}
