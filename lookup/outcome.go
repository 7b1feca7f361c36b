// Package lookup resolves a phone number to the UPI account registered against it.
package lookup

import (
	"encoding/json"

	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/sym"
)

// OutcomeKind classifies the terminal result of one lookup.
type OutcomeKind string

const (
	KindSuccess   OutcomeKind = "success"
	KindNotFound  OutcomeKind = "not_found"
	KindTransient OutcomeKind = "transient_error"
	KindFatal     OutcomeKind = "fatal_error"
	// KindCancelled is synthetic: the item was never issued because the run was cancelled.
	KindCancelled OutcomeKind = "cancelled"
)

// Kinds lists every outcome kind in display order.
var Kinds = []OutcomeKind{KindSuccess, KindNotFound, KindTransient, KindFatal, KindCancelled}

// ParseKind converts s to an OutcomeKind.
func ParseKind(s string) (OutcomeKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", errors.NewInvalidRequestError("unknown outcome kind %q", s)
}

// IsFailure reports whether the kind counts against the run's failure tally.
// Not-found is a failure; cancelled is neither success nor failure.
func (k OutcomeKind) IsFailure() bool {
	switch k {
	case KindNotFound, KindTransient, KindFatal:
		return true
	}
	return false
}

// Retryable reports whether another attempt may produce a different result.
func (k OutcomeKind) Retryable() bool {
	return k == KindTransient
}

// Symbol returns the marker used in CLI and log output.
func (k OutcomeKind) Symbol() string {
	switch k {
	case KindSuccess:
		return sym.Success
	case KindNotFound:
		return sym.NotFound
	case KindCancelled:
		return sym.Cancelled
	default:
		return sym.Failure
	}
}

// UpiRecord is the account data returned for a resolved handle.
type UpiRecord struct {
	PhoneNumber       string          `json:"phone_number"`
	UpiID             string          `json:"upi_id"`
	AccountHolderName string          `json:"account_holder_name"`
	BankName          string          `json:"bank_name"`
	IFSC              *string         `json:"ifsc,omitempty"`
	Handle            string          `json:"handle"`
	RawResponse       json.RawMessage `json:"raw_response,omitempty"`
}

// Outcome is the terminal result for one phone number.
// Record is set only for KindSuccess.
type Outcome struct {
	Kind     OutcomeKind `json:"kind"`
	Record   *UpiRecord  `json:"record,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Attempts int         `json:"attempts"`
	Handle   string      `json:"handle,omitempty"`
}

// Err returns the outcome as an error marked with the matching sentinel,
// or nil for success.
func (o Outcome) Err() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindNotFound:
		return errors.Mark(errors.New(o.Reason), errors.ErrNotFound)
	case KindTransient:
		return errors.Mark(errors.New(o.Reason), errors.ErrTransient)
	case KindCancelled:
		return errors.New(o.Reason)
	default:
		return errors.Mark(errors.New(o.Reason), errors.ErrFatal)
	}
}

// Cancelled builds the synthetic outcome for an item that was never issued.
func Cancelled(reason string) Outcome {
	return Outcome{Kind: KindCancelled, Reason: reason}
}

func notFound(reason string) Outcome {
	return Outcome{Kind: KindNotFound, Reason: reason}
}

func transient(reason string) Outcome {
	return Outcome{Kind: KindTransient, Reason: reason}
}

func fatal(reason string) Outcome {
	return Outcome{Kind: KindFatal, Reason: reason}
}
