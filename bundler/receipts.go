package bundler

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ReceiptRecorder is notified of every UserOperation's outcome once its
// bundle transaction lands, so a caller (the service facade, answering
// eth_getUserOperationReceipt) can serve receipts without re-deriving
// them from chain state on every request.
type ReceiptRecorder interface {
	RecordReceipt(opHash common.Hash, info ReceiptInfo)
}

// ReceiptInfo is everything eth_getUserOperationReceipt needs about one
// landed UserOperation.
type ReceiptInfo struct {
	TxHash      common.Hash
	BlockNumber uint64
	Success     bool
}

// userOperationRevertReasonTopic is the topic0 of the EntryPoint's
// UserOperationRevertReason(bytes32 indexed userOpHash, address indexed
// sender, uint256 nonce, bytes revertReason) event: the signal a landed
// handleOps transaction uses to report that one UserOp's call phase
// reverted without failing the whole bundle.
var userOperationRevertReasonTopic = crypto.Keccak256Hash([]byte("UserOperationRevertReason(bytes32,address,uint256,bytes)"))

// revertedUserOps scans receipt's logs for UserOperationRevertReason
// events emitted by entryPoint, returning the blamed sender address for
// every reverted userOpHash. Only the sender is named here: the log
// itself does not distinguish which phase (sender/paymaster) caused the
// revert, so the sender is penalized as the UserOp's accountable party.
func revertedUserOps(receipt *types.Receipt, entryPoint common.Address) map[common.Hash]common.Address {
	out := make(map[common.Hash]common.Address)
	for _, l := range receipt.Logs {
		if l.Address != entryPoint || len(l.Topics) < 3 {
			continue
		}
		if l.Topics[0] != userOperationRevertReasonTopic {
			continue
		}
		userOpHash := l.Topics[1]
		sender := common.BytesToAddress(l.Topics[2].Bytes())
		out[userOpHash] = sender
	}
	return out
}
