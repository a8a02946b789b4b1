package provider

import "github.com/henrysouchien/portfolio-risk-engine/internal/domain"

// ReferenceMappings is a read-only lookup for the three auto-assignment
// tables the scenario engine and optimizer fallback consult: currency to
// cash proxy, industry label to industry ETF, and exchange to default
// factor proxies. A built-in default table is always present; Override
// replaces or extends it. A missing key is reported to the caller, never
// silently defaulted.
type ReferenceMappings struct {
	currencyToCashProxy map[string]domain.Ticker
	industryToETF       map[string]domain.Ticker
	exchangeDefaults    map[string]domain.ProxySet
}

// NewReferenceMappings builds the mappings with the built-in defaults.
func NewReferenceMappings() *ReferenceMappings {
	return &ReferenceMappings{
		currencyToCashProxy: map[string]domain.Ticker{
			"USD": domain.Ticker("BIL"),
			"EUR": domain.Ticker("CSH2"),
			"GBP": domain.Ticker("ERNS"),
		},
		industryToETF: map[string]domain.Ticker{
			"semiconductors":      domain.Ticker("SOXX"),
			"software":            domain.Ticker("IGV"),
			"banks":               domain.Ticker("KBE"),
			"oil_gas":             domain.Ticker("XOP"),
			"retail":              domain.Ticker("XRT"),
			"healthcare_services": domain.Ticker("IHF"),
			"utilities":           domain.Ticker("XLU"),
		},
		exchangeDefaults: map[string]domain.ProxySet{
			"NYSE": {Market: "SPY", Momentum: "MTUM", Value: "VTV"},
			"NASDAQ": {Market: "QQQ", Momentum: "MTUM", Value: "VTV"},
		},
	}
}

// CashProxy resolves a cash pseudo-ticker's ISO-4217 currency to a
// short-duration proxy ticker.
func (m *ReferenceMappings) CashProxy(currency string) (domain.Ticker, error) {
	t, ok := m.currencyToCashProxy[currency]
	if !ok {
		return "", domain.NewError(domain.ErrDataUnavailable, "no cash proxy mapping for currency",
			domain.WithSuggestion("register a cash proxy override for this currency"))
	}
	return t, nil
}

// IndustryETF resolves an industry label to its industry-ETF proxy.
func (m *ReferenceMappings) IndustryETF(industry string) (domain.Ticker, error) {
	t, ok := m.industryToETF[industry]
	if !ok {
		return "", domain.NewError(domain.ErrDataUnavailable, "no industry ETF mapping for label",
			domain.WithSuggestion("register an industry ETF override for this label"))
	}
	return t, nil
}

// ExchangeDefaults resolves an exchange to its default market/momentum/value
// proxy set, used when no reference peer is available to copy from.
func (m *ReferenceMappings) ExchangeDefaults(exchange string) (domain.ProxySet, error) {
	p, ok := m.exchangeDefaults[exchange]
	if !ok {
		return domain.ProxySet{}, domain.NewError(domain.ErrDataUnavailable, "no default proxy set for exchange",
			domain.WithSuggestion("register an exchange default override"))
	}
	return p, nil
}

// OverrideCashProxy adds or replaces a currency -> cash proxy entry.
func (m *ReferenceMappings) OverrideCashProxy(currency string, proxy domain.Ticker) {
	m.currencyToCashProxy[currency] = proxy
}

// OverrideIndustryETF adds or replaces an industry -> ETF entry.
func (m *ReferenceMappings) OverrideIndustryETF(industry string, proxy domain.Ticker) {
	m.industryToETF[industry] = proxy
}

// OverrideExchangeDefaults adds or replaces an exchange -> default proxy set entry.
func (m *ReferenceMappings) OverrideExchangeDefaults(exchange string, proxies domain.ProxySet) {
	m.exchangeDefaults[exchange] = proxies
}
