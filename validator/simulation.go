package validator

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
)

// simulate is stage S2: call simulateValidation on the EntryPoint and
// decode its (always-reverting) result.
func (v *Validator) simulate(ctx context.Context, op *entity.UserOperation, entryPointAddr common.Address) (*entrypoint.ValidationResult, error) {
	msg, err := v.entryPoint.SimulateValidation(op)
	if err != nil {
		return nil, &InternalError{Cause: err}
	}

	_, callErr := v.eth.Call(ctx, msg, nil)
	if callErr == nil {
		return nil, &SimulationError{Reason: "simulateValidation did not revert"}
	}

	revertData := entrypoint.ExtractRevertData(callErr)
	if revertData == nil {
		return nil, &ProviderError{Transport: "eth_call", Cause: callErr}
	}

	result, decodeErr := entrypoint.DecodeValidationResult(revertData)
	if decodeErr != nil {
		var failedOp *entrypoint.FailedOp
		if ok := asFailedOp(decodeErr, &failedOp); ok {
			return nil, &SimulationError{Reason: failedOp.Reason}
		}
		return nil, &SimulationError{Reason: decodeErr.Error()}
	}

	if result.ReturnInfo.SigFailed {
		return nil, &SimulationError{Reason: "signature validation failed"}
	}

	now := time.Now().Unix()
	skew := v.config.ValidAfterUntilSkewSecs
	if result.ReturnInfo.ValidUntil != 0 && int64(result.ReturnInfo.ValidUntil)+skew < now {
		return nil, &SimulationError{Reason: "validUntil has expired"}
	}
	if int64(result.ReturnInfo.ValidAfter)-skew > now {
		return nil, &SimulationError{Reason: "validAfter is in the future"}
	}

	return result, nil
}

func asFailedOp(err error, target **entrypoint.FailedOp) bool {
	if fo, ok := err.(*entrypoint.FailedOp); ok {
		*target = fo
		return true
	}
	return false
}

