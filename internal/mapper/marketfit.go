package mapper

// Market fit categories.
const (
	FitNone     = "No es FIT"
	FitHormiga  = "Hormiga"
	FitConejo   = "Conejo"
	FitElefante = "Elefante"
)

// MarketFit classifies by room count.
func MarketFit(rooms int) string {
	switch {
	case rooms < 5:
		return FitNone
	case rooms <= 13:
		return FitHormiga
	case rooms <= 27:
		return FitConejo
	default:
		return FitElefante
	}
}

// MarketFitWithType requires a Booking listing. Hostels and B&Bs under five
// rooms still count as Hormiga. rooms < 0 means unknown.
func MarketFitWithType(rooms int, companyType string, hasBooking bool) string {
	if !hasBooking || rooms < 0 {
		return FitNone
	}
	if rooms < 5 && (companyType == "Hostel" || companyType == "Bed and breakfasts") {
		return FitHormiga
	}
	return MarketFit(rooms)
}
