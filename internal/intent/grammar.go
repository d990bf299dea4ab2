package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// maxPayloadLength is the hard cap applied before any pattern matching.
	maxPayloadLength = 2000
	// suspiciousPayloadLength triggers an advisory warning during validation.
	suspiciousPayloadLength = 1000
	// maxDescriptionLength caps free-text descriptions carried on an intent.
	maxDescriptionLength = 280

	minHandleLength = 3
	maxHandleLength = 32
)

// Rules carries the externally supplied recognition configuration shared by
// the parser and validator. Keeping it in one place guarantees the two never
// diverge on what counts as a payment payload.
type Rules struct {
	// AllowedHosts are the application domains a web URL must end with.
	AllowedHosts []string
	// Scheme is the product's registered URI scheme, without "://".
	Scheme string
	// Currencies is the closed set of supported currency codes.
	Currencies []string
	// DefaultCurrency is applied when a payment-bearing match names none.
	DefaultCurrency string
	// ShortenerHosts are known URL-shortener domains that hide the true
	// destination of a link.
	ShortenerHosts []string
}

// DefaultRules returns the production recognition rules.
func DefaultRules() Rules {
	return Rules{
		AllowedHosts:    []string{"paylink.app"},
		Scheme:          "paylink",
		Currencies:      []string{"USDC", "APT"},
		DefaultCurrency: "USDC",
		ShortenerHosts: []string{
			"bit.ly", "tinyurl.com", "t.co", "goo.gl", "is.gd", "ow.ly", "buff.ly",
		},
	}
}

// Grammar implements the format-detection rules, in priority order:
// web URL, custom scheme, username shorthand, free text. The first rule a
// string satisfies wins.
type Grammar struct {
	rules      Rules
	handleRe   *regexp.Regexp
	shortRe    *regexp.Regexp
	dollarRe   *regexp.Regexp
	bareAmtRe  *regexp.Regexp
	currencyRe *regexp.Regexp
	currencies map[string]struct{}
	shorteners map[string]struct{}
}

// NewGrammar compiles the recognition patterns for the provided rules.
func NewGrammar(rules Rules) *Grammar {
	if rules.DefaultCurrency == "" {
		rules.DefaultCurrency = "USDC"
	}

	currencies := make(map[string]struct{}, len(rules.Currencies))
	tokens := make([]string, 0, len(rules.Currencies))
	for _, c := range rules.Currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		currencies[c] = struct{}{}
		tokens = append(tokens, regexp.QuoteMeta(c))
	}

	shorteners := make(map[string]struct{}, len(rules.ShortenerHosts))
	for _, h := range rules.ShortenerHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			shorteners[h] = struct{}{}
		}
	}

	currencyPattern := `$^` // matches nothing when no currencies configured
	if len(tokens) > 0 {
		currencyPattern = `(?i)\b(` + strings.Join(tokens, "|") + `)\b`
	}

	return &Grammar{
		rules:      rules,
		handleRe:   regexp.MustCompile(`@([A-Za-z0-9_]+)`),
		shortRe:    regexp.MustCompile(`^@[A-Za-z0-9_]+$`),
		dollarRe:   regexp.MustCompile(`\$\s*([0-9]+(?:\.[0-9]+)?)`),
		bareAmtRe:  regexp.MustCompile(`\b[0-9]+(?:\.[0-9]+)?\b`),
		currencyRe: regexp.MustCompile(currencyPattern),
		currencies: currencies,
		shorteners: shorteners,
	}
}

// SchemePrefix returns the custom URI prefix, e.g. "paylink://".
func (g *Grammar) SchemePrefix() string {
	return g.rules.Scheme + "://"
}

// HostAllowed reports whether a URL host belongs to the application's
// registered domain set. Matching is case-insensitive and accepts subdomains.
func (g *Grammar) HostAllowed(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, allowed := range g.rules.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// IsShortenerHost reports whether the host is a known URL shortener.
func (g *Grammar) IsShortenerHost(host string) bool {
	_, ok := g.shorteners[normalizeHost(host)]
	return ok
}

// KnownCurrency reports whether the code belongs to the supported set.
func (g *Grammar) KnownCurrency(code string) bool {
	_, ok := g.currencies[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// DefaultCurrency returns the currency applied when a payment-bearing match
// specifies none.
func (g *Grammar) DefaultCurrency() string {
	return g.rules.DefaultCurrency
}

// MatchesShorthand reports whether the whole string is an @username token.
func (g *Grammar) MatchesShorthand(s string) bool {
	return g.shortRe.MatchString(s)
}

// FindHandle extracts the first @-prefixed handle token, without the @.
func (g *Grammar) FindHandle(s string) string {
	m := g.handleRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// FindCurrency extracts the first supported currency token, upper-cased.
func (g *Grammar) FindCurrency(s string) string {
	m := g.currencyRe.FindString(s)
	return strings.ToUpper(m)
}

// FindAmount extracts a monetary amount from free text. A $-prefixed number
// takes precedence over a bare decimal token; handle tokens are masked out
// first so digits inside a username are never mistaken for an amount.
func (g *Grammar) FindAmount(s string) (decimal.Decimal, bool) {
	if m := g.dollarRe.FindStringSubmatch(s); m != nil {
		return parseAmount(m[1])
	}
	masked := g.handleRe.ReplaceAllString(s, " ")
	if m := g.bareAmtRe.FindString(masked); m != "" {
		return parseAmount(m)
	}
	return decimal.Decimal{}, false
}

// HasDollarAmount reports whether the string carries a $-prefixed number.
func (g *Grammar) HasDollarAmount(s string) bool {
	return g.dollarRe.MatchString(s)
}

// NormalizeHandle canonicalizes a recipient handle: leading @, lower-cased.
func NormalizeHandle(handle string) string {
	handle = strings.TrimSpace(handle)
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return ""
	}
	return "@" + strings.ToLower(handle)
}

// StrippedHandle returns the handle without its leading @.
func StrippedHandle(handle string) string {
	return strings.TrimPrefix(handle, "@")
}

// ClampAmount truncates an amount to two fractional digits.
func ClampAmount(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

func parseAmount(token string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return ClampAmount(d), true
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}
