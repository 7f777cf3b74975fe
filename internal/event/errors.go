package event

import (
	"errors"
	"fmt"
)

// RejectKind discriminates the terminal failure modes of a trade request.
// Every kind aborts the whole two-phase request; nothing is retried
// internally and no partial state is committed.
type RejectKind int32

const (
	RejectUnknown RejectKind = iota

	// RejectInvalidPriceFeed: no source registered for the asset, or the
	// source returned a non-positive price.
	RejectInvalidPriceFeed

	// RejectStalePrice: the source's last update exceeds the freshness
	// threshold.
	RejectStalePrice

	// RejectInsufficientCollateral: resulting position would have non-zero
	// size but zero collateral, or the trading fee exceeds available
	// collateral.
	RejectInsufficientCollateral

	// RejectMarginRequirementFailed: resulting collateral is below the
	// required margin for the resulting position size.
	RejectMarginRequirementFailed

	// RejectNegativeCollateral: requested collateral withdrawal exceeds
	// current collateral.
	RejectNegativeCollateral
)

func (k RejectKind) String() string {
	switch k {
	case RejectInvalidPriceFeed:
		return "InvalidPriceFeed"
	case RejectStalePrice:
		return "StalePrice"
	case RejectInsufficientCollateral:
		return "InsufficientCollateral"
	case RejectMarginRequirementFailed:
		return "MarginRequirementFailed"
	case RejectNegativeCollateral:
		return "NegativeCollateral"
	default:
		return "Unknown"
	}
}

// Reject is the tagged error surfaced to the trade-execution collaborator.
// The kind crosses the boundary verbatim; Detail is diagnostic only.
type Reject struct {
	Kind   RejectKind
	Detail string
}

func (r *Reject) Error() string {
	if r.Detail == "" {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

// Rejectf builds a Reject with a formatted detail message.
func Rejectf(kind RejectKind, format string, args ...interface{}) *Reject {
	return &Reject{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the reject kind from an error chain. Returns
// (RejectUnknown, false) for errors that are not rejects.
func KindOf(err error) (RejectKind, bool) {
	var r *Reject
	if errors.As(err, &r) {
		return r.Kind, true
	}
	return RejectUnknown, false
}
