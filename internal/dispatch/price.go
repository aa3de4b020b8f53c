package dispatch

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	jmes "github.com/jmespath/go-jmespath"

	"paybroker/internal/processor"
)

// priceMapping pulls one field of the platform's first product price out of the event body.
type priceMapping struct {
	Key      string
	Path     string
	Required bool
}

var priceMappings = []priceMapping{
	{Key: "product", Path: "productDetails[0].name", Required: true},
	{Key: "amount", Path: "productDetails[0].prices[0].amount", Required: true},
	{Key: "currency", Path: "productDetails[0].prices[0].currency"},
	{Key: "interval", Path: "productDetails[0].prices[0].recurring.interval", Required: true},
	{Key: "intervalCount", Path: "productDetails[0].prices[0].recurring.intervalCount"},
	{Key: "priceName", Path: "productDetails[0].prices[0].name"},
}

// zeroDecimal currencies are already expressed in minor units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true, "krw": true, "mga": true,
	"pyg": true, "rwf": true, "ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// priceParams maps the platform product in the event to a recurring
// processor price. Platform prices are in major units.
func priceParams(ev Event) (processor.PriceParams, error) {
	vals := map[string]any{}
	for _, m := range priceMappings {
		v, err := jmes.Search(m.Path, ev.Raw)
		if err != nil || v == nil {
			if m.Required {
				return processor.PriceParams{}, fmt.Errorf("productDetails: missing %s", m.Key)
			}
			continue
		}
		vals[m.Key] = v
	}

	currency := ev.Currency
	if currency == "" {
		currency = strings.ToLower(asString(vals["currency"]))
	}
	if currency == "" {
		return processor.PriceParams{}, errors.New("currency is required")
	}
	major, err := asFloat(vals["amount"])
	if err != nil {
		return processor.PriceParams{}, fmt.Errorf("productDetails: %w", err)
	}
	unit := major * 100
	if zeroDecimal[currency] {
		unit = major
	}

	name := asString(vals["product"])
	if pn := asString(vals["priceName"]); pn != "" && pn != name {
		name = name + " - " + pn
	}
	p := processor.PriceParams{
		ProductName: name,
		UnitAmount:  int64(math.Round(unit)),
		Currency:    currency,
		Interval:    strings.ToLower(asString(vals["interval"])),
	}
	if c, err := asFloat(vals["intervalCount"]); err == nil && c > 0 {
		p.IntervalCount = int64(c)
	}
	switch p.Interval {
	case "day", "week", "month", "year":
	default:
		return processor.PriceParams{}, fmt.Errorf("productDetails: unsupported interval %q", p.Interval)
	}
	return p, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("not a number: %v", v)
}
