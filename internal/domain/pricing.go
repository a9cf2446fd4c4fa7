package domain

// OrderTotals holds the rolled-up monetary results of pricing a cart snapshot.
type OrderTotals struct {
	Subtotal Money
	Tax      Money
	Shipping Money
	Discount Money
	Total    Money
	LineTax  []Money
}

// ComputeTotals prices the cart snapshot with a single configurable tax rate.
//
// Tax-inclusive: tax = round(subtotal*rate/(1+rate)), total = subtotal + shipping - discount.
// Tax-exclusive: tax = round(subtotal*rate), total = subtotal + shipping - discount + tax.
//
// Per-line tax amounts are rounded independently; their sum may differ from the
// order-level tax by at most one minor unit, which callers must tolerate.
func ComputeTotals(cart CartSnapshot, rate float64, inclusive bool, shipping, discount int64) OrderTotals {
	currency := cart.Currency

	subtotal := Money{Currency: currency}
	lineTax := make([]Money, len(cart.Lines))
	for i, line := range cart.Lines {
		lineTotal := Money{Amount: line.UnitPrice * line.Quantity, Currency: currency}
		subtotal.Amount += lineTotal.Amount
		if inclusive {
			lineTax[i] = InclusiveTax(lineTotal, rate)
		} else {
			lineTax[i] = ExclusiveTax(lineTotal, rate)
		}
	}

	var tax Money
	if inclusive {
		tax = InclusiveTax(subtotal, rate)
	} else {
		tax = ExclusiveTax(subtotal, rate)
	}

	total := subtotal.Amount + shipping - discount
	if !inclusive {
		total += tax.Amount
	}

	return OrderTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: Money{Amount: shipping, Currency: currency},
		Discount: Money{Amount: discount, Currency: currency},
		Total:    Money{Amount: total, Currency: currency},
		LineTax:  lineTax,
	}
}
