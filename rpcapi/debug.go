package rpcapi

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/service"
)

// DebugAPI implements the operator-facing debug_bundler_* methods of
// spec §6, registered under the "debug" namespace. go-ethereum's rpc
// package maps a Go method Bundler_clearState to the JSON-RPC method
// "debug_bundler_clearState" (namespace + lowerFirst(method name)).
type DebugAPI struct {
	service *service.Service
}

// NewDebugAPI wires a DebugAPI over svc.
func NewDebugAPI(svc *service.Service) *DebugAPI {
	return &DebugAPI{service: svc}
}

// Bundler_clearState empties every registered EntryPoint's mempool and the
// shared reputation table.
func (d *DebugAPI) Bundler_clearState() error {
	for _, ep := range d.service.SupportedEntryPoints() {
		h, err := d.service.Handle(ep)
		if err != nil {
			return mapError(err)
		}
		if err := h.Mempool.Clear(); err != nil {
			return fmt.Errorf("rpcapi: clearing mempool for %s: %w", ep, err)
		}
	}
	if err := d.service.Reputation().Clear(); err != nil {
		return fmt.Errorf("rpcapi: clearing reputation: %w", err)
	}
	return nil
}

// Bundler_dumpMempool dumps every UserOperation currently pooled for
// entryPoint.
func (d *DebugAPI) Bundler_dumpMempool(entryPoint common.Address) ([]*entity.UserOperation, error) {
	h, err := d.service.Handle(entryPoint)
	if err != nil {
		return nil, mapError(err)
	}
	return h.Mempool.GetAll(), nil
}

// reputationEntryParam is the wire shape debug_bundler_setReputation
// accepts per entry, matching the ERC-4337 bundler test-suite convention
// of setting reputation by address rather than incrementally.
type reputationEntryParam struct {
	Address     common.Address `json:"address"`
	OpsSeen     uint64         `json:"opsSeen"`
	OpsIncluded uint64         `json:"opsIncluded"`
}

// Bundler_setReputation overwrites a batch of entities' reputation
// counters directly, for test harnesses driving the bundler into a
// specific throttled/banned state without replaying real traffic.
func (d *DebugAPI) Bundler_setReputation(entries []reputationEntryParam) error {
	for _, e := range entries {
		if err := d.service.Reputation().SetReputation(e.Address, e.OpsSeen, e.OpsIncluded); err != nil {
			return fmt.Errorf("rpcapi: setting reputation for %s: %w", e.Address, err)
		}
	}
	return nil
}

// reputationEntryResult mirrors reputation.Entry plus its derived status,
// since Status is a pure function of the counters rather than a persisted
// field.
type reputationEntryResult struct {
	Address     common.Address `json:"address"`
	OpsSeen     uint64         `json:"opsSeen"`
	OpsIncluded uint64         `json:"opsIncluded"`
	Status      string         `json:"status"`
}

// Bundler_dumpReputation dumps every entity's current reputation entry.
func (d *DebugAPI) Bundler_dumpReputation() ([]reputationEntryResult, error) {
	rep := d.service.Reputation()
	entries, err := rep.GetAll()
	if err != nil {
		return nil, fmt.Errorf("rpcapi: dumping reputation: %w", err)
	}
	out := make([]reputationEntryResult, len(entries))
	for i, e := range entries {
		out[i] = reputationEntryResult{
			Address:     e.Address,
			OpsSeen:     e.OpsSeen,
			OpsIncluded: e.OpsIncluded,
			Status:      e.Status(rep.Constants()).String(),
		}
	}
	return out, nil
}

// Bundler_sendBundleNow forces entryPoint's bundler to run one tick
// immediately, regardless of its current bundling mode.
func (d *DebugAPI) Bundler_sendBundleNow(ctx context.Context, entryPoint common.Address) (string, error) {
	h, err := d.service.Handle(entryPoint)
	if err != nil {
		return "", mapError(err)
	}
	if err := h.Bundler.Tick(ctx); err != nil {
		return "", fmt.Errorf("rpcapi: forcing bundle: %w", err)
	}
	return "ok", nil
}

// Bundler_setBundlingMode switches entryPoint's bundler between "auto"
// (ticks itself on its configured interval) and "manual" (only bundles via
// Bundler_sendBundleNow).
func (d *DebugAPI) Bundler_setBundlingMode(entryPoint common.Address, mode string) error {
	h, err := d.service.Handle(entryPoint)
	if err != nil {
		return mapError(err)
	}
	switch mode {
	case "auto":
		h.Bundler.SetManualBundling(false)
	case "manual":
		h.Bundler.SetManualBundling(true)
	default:
		return fmt.Errorf("rpcapi: unknown bundling mode %q", mode)
	}
	return nil
}
