package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/symbol"
)

// DefaultCurrency is applied to trades submitted without a currency.
const DefaultCurrency = "USD"

// Accepted trade date layouts, tried in order.
var tradeDateLayouts = []string{"2006-01-02", "01/02/2006", "2006/01/02"}

// TradeInput is an unvalidated trade row as submitted by a client.
// Quantity and price are required; a missing fees value means zero.
type TradeInput struct {
	Account   string              `json:"account"`
	Symbol    string              `json:"symbol"`
	TradeDate string              `json:"trade_date"`
	Side      string              `json:"side"`
	Quantity  decimal.NullDecimal `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	Fees      decimal.NullDecimal `json:"fees"`
	Currency  string              `json:"currency"`
	BrokerRef string              `json:"broker_ref"`
}

// Normalize validates a submitted row and turns it into a ledger Trade with
// its content-hash identity. row is the 1-based position used in messages.
func Normalize(in TradeInput, row int) (model.Trade, error) {
	var missing []string
	if strings.TrimSpace(in.Account) == "" {
		missing = append(missing, "account")
	}
	if strings.TrimSpace(in.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if strings.TrimSpace(in.TradeDate) == "" {
		missing = append(missing, "trade_date")
	}
	if strings.TrimSpace(in.Side) == "" {
		missing = append(missing, "side")
	}
	if !in.Quantity.Valid {
		missing = append(missing, "quantity")
	}
	if !in.Price.Valid {
		missing = append(missing, "price")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return model.Trade{}, model.Invalidf("Row %d: missing required fields: %s", row, strings.Join(missing, ", "))
	}

	quantity, price := in.Quantity.Decimal, in.Price.Decimal
	fees := decimal.Zero
	if in.Fees.Valid {
		fees = in.Fees.Decimal
	}

	side := model.Side(strings.ToUpper(strings.TrimSpace(in.Side)))
	if side != model.SideBuy && side != model.SideSell {
		return model.Trade{}, model.Invalidf("Row %d: side must be BUY or SELL", row)
	}
	if !quantity.IsPositive() {
		return model.Trade{}, model.Invalidf("Row %d: quantity must be > 0", row)
	}
	if price.IsNegative() {
		return model.Trade{}, model.Invalidf("Row %d: price must be >= 0", row)
	}
	if fees.IsNegative() {
		return model.Trade{}, model.Invalidf("Row %d: fees must be >= 0", row)
	}

	sym, err := symbol.Parse(in.Symbol)
	if err != nil {
		return model.Trade{}, model.Invalidf("Row %d: invalid symbol: %s", row, strings.TrimSpace(in.Symbol))
	}

	tradeDate, err := parseTradeDate(in.TradeDate)
	if err != nil {
		return model.Trade{}, model.Invalidf("Row %d: unsupported date format: %s", row, in.TradeDate)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}

	t := model.Trade{
		Account:   strings.TrimSpace(in.Account),
		Symbol:    sym,
		TradeDate: tradeDate,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Fees:      fees,
		Currency:  currency,
		BrokerRef: strings.TrimSpace(in.BrokerRef),
	}
	t.UID = TradeUID(t)
	return t, nil
}

// TradeUID is the content hash identifying a trade. Re-submitting the same
// normalized row always yields the same UID.
func TradeUID(t model.Trade) string {
	raw := strings.Join([]string{
		strings.ToUpper(t.Account),
		strings.ToUpper(t.Symbol),
		model.FormatDate(t.TradeDate),
		string(t.Side),
		t.Quantity.String(),
		t.Price.String(),
		t.Fees.String(),
		strings.ToUpper(t.Currency),
		strings.ToUpper(t.BrokerRef),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func parseTradeDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range tradeDateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, err
}
