package validator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/reputation"
)

// reputationGate is stage S4: reject a not-yet-admitted UserOperation whose
// sender, factory or paymaster is banned, or whose presence in the mempool
// would push a throttled/unstaked entity over its occupancy cap. The
// signature aggregator (known only after S2/S3) is checked the same way
// when one is present.
func (v *Validator) reputationGate(op *entity.UserOperation, sim *entrypoint.ValidationResult) error {
	if factory, ok := op.Factory(); ok {
		if err := v.checkEntityReputation(entity.RoleFactory, factory, v.isStaked(sim.FactoryInfo)); err != nil {
			return err
		}
	}
	if err := v.checkEntityReputation(entity.RoleSender, op.Sender, v.isStaked(sim.SenderInfo)); err != nil {
		return err
	}
	if paymaster, ok := op.Paymaster(); ok {
		if err := v.checkEntityReputation(entity.RolePaymaster, paymaster, v.isStaked(sim.PaymasterInfo)); err != nil {
			return err
		}
	}
	if sim.AggregatorInfo != nil {
		staked := v.isStaked(sim.AggregatorInfo.StakeInfo)
		if err := v.checkEntityReputation(entity.RoleAggregator, sim.AggregatorInfo.Aggregator, staked); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) isStaked(info entrypoint.StakeInfo) bool {
	return info.ToReputation().IsStaked(v.reputation.Constants())
}

// checkEntityReputation enforces spec §4.4 S4: a banned entity is rejected
// outright, a staked entity's mempool occupancy is unlimited, and an
// unstaked entity (OK or throttled alike) is capped, the sender at
// SameSenderMempoolCount and every other role at ThrottledMempoolCount.
func (v *Validator) checkEntityReputation(role entity.Role, addr common.Address, staked bool) error {
	entry, err := v.reputation.Get(addr)
	if err != nil {
		return &InternalError{Cause: err}
	}

	status := entry.Status(v.reputation.Constants())
	if status == reputation.Banned {
		return &ReputationError{Entity: string(role), Status: status.String()}
	}
	if staked || v.mempool == nil {
		return nil
	}

	limit := v.config.ThrottledMempoolCount
	if role == entity.RoleSender {
		limit = v.config.SameSenderMempoolCount
	}
	if v.mempool.CountByEntity(addr) >= limit {
		return &ReputationError{Entity: string(role), Status: fmt.Sprintf("unstaked %s has reached its mempool occupancy cap", role)}
	}
	return nil
}
