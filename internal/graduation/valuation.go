package graduation

import (
	"github.com/shopspring/decimal"

	"agent-launchpad/internal/domain"
)

// Basis is the supply a headline valuation is computed on.
type Basis string

// Valuation bases
const (
	BasisTotalSupply       Basis = "total_supply"
	BasisCirculatingSupply Basis = "circulating_supply"
)

// ValuationBasis returns the supply basis for status: fully diluted before
// graduation, circulating after.
func ValuationBasis(status domain.GraduationStatus) Basis {
	if status == domain.StatusGraduated {
		return BasisCirculatingSupply
	}
	return BasisTotalSupply
}

// Valuation is the headline value of an agent token in the display currency.
type Valuation struct {
	Basis Basis           `json:"basis"`
	Value decimal.Decimal `json:"value"`
}

// ValuationOf derives the headline valuation of snap consistently from status.
func ValuationOf(status domain.GraduationStatus, snap *domain.MetricSnapshot) Valuation {
	basis := ValuationBasis(status)
	if basis == BasisCirculatingSupply {
		return Valuation{Basis: basis, Value: snap.MarketCapDisplay}
	}
	return Valuation{Basis: basis, Value: snap.FDVDisplay}
}
