package txn

import "fmt"

// Ledger records a type=0 transaction once it has been totally ordered.
// checkpoint.Manager implements this over its running balance accumulator.
type Ledger interface {
	RecordTransfer(round int, tx *MoneyTransfer) error
}

// SignSink receives type=1 transactions. checkpoint.Manager implements
// this as HandleNewSign.
type SignSink interface {
	HandleNewSign(tx *SignedState) error
}

// Router dispatches a totally-ordered transaction to its fixed sink. There
// are exactly two transaction types, so there is no open registry: just the
// two routes.
type Router struct {
	ledger Ledger
	signs  SignSink
}

// NewRouter creates a Router dispatching to ledger and signs.
func NewRouter(ledger Ledger, signs SignSink) *Router {
	return &Router{ledger: ledger, signs: signs}
}

// Route parses txHex and sends it to the route its type names. bal is used
// for the authoritative balance check on money-transfer transactions; pass
// nil for transactions exempt from it, such as genesis allocations.
func (r *Router) Route(round int, txHex string, bal BalanceReader) error {
	parsed, err := Parse(txHex, bal)
	if err != nil {
		return err
	}
	switch tx := parsed.(type) {
	case *MoneyTransfer:
		return r.ledger.RecordTransfer(round, tx)
	case *SignedState:
		return r.signs.HandleNewSign(tx)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, parsed)
	}
}
