// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"errors"
	"fmt"
)

var errBadApplyResult = errors.New("malformed apply extrinsic result")

// ApplyOutcome classifies the result of BlockBuilder_apply_extrinsic.
type ApplyOutcome byte

const (
	// Applied means the extrinsic was included and dispatched successfully.
	Applied ApplyOutcome = iota
	// DispatchFailed means the extrinsic was included but its call failed.
	DispatchFailed
	// Invalid means the extrinsic was rejected before dispatch.
	Invalid
)

func (o ApplyOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case DispatchFailed:
		return "dispatch failed"
	default:
		return "invalid"
	}
}

// ApplyResult is a decoded ApplyExtrinsicResult. Error holds the SCALE
// encoded DispatchError or TransactionValidityError.
type ApplyResult struct {
	Outcome ApplyOutcome
	Error   []byte
}

// ParseApplyResult decodes Result<Result<(), DispatchError>, TransactionValidityError>.
func ParseApplyResult(b []byte) (ApplyResult, error) {
	if len(b) == 0 {
		return ApplyResult{}, errBadApplyResult
	}
	switch b[0] {
	case 0:
		if len(b) < 2 {
			return ApplyResult{}, errBadApplyResult
		}
		switch b[1] {
		case 0:
			return ApplyResult{Outcome: Applied}, nil
		case 1:
			return ApplyResult{Outcome: DispatchFailed, Error: b[2:]}, nil
		}
	case 1:
		return ApplyResult{Outcome: Invalid, Error: b[1:]}, nil
	}
	return ApplyResult{}, fmt.Errorf("%w: 0x%x", errBadApplyResult, b)
}
