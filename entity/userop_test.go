package entity

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleOp() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(0),
		InitCode:             []byte{},
		CallData:             []byte{0x01, 0x02},
		CallGasLimit:         big.NewInt(50_000),
		VerificationGasLimit: big.NewInt(200_000),
		PreVerificationGas:   big.NewInt(21_000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0xaa, 0xbb},
	}
}

func TestUserOperationHashStableAcrossJSONRoundTrip(t *testing.T) {
	op := sampleOp()
	entryPoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	chainID := big.NewInt(1)

	h1 := op.Hash(entryPoint, chainID)

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var roundTripped UserOperation
	require.NoError(t, json.Unmarshal(raw, &roundTripped))

	h2 := roundTripped.Hash(entryPoint, chainID)
	require.Equal(t, h1, h2, "UserOp hash must be invariant under JSON round-trip")
}

func TestUserOperationHashChangesWithChainID(t *testing.T) {
	op := sampleOp()
	entryPoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	h1 := op.Hash(entryPoint, big.NewInt(1))
	h2 := op.Hash(entryPoint, big.NewInt(2))
	require.NotEqual(t, h1, h2)
}

func TestEntitiesOmitsZeroAddresses(t *testing.T) {
	op := sampleOp()
	ents := op.Entities()
	require.Contains(t, ents, RoleSender)
	require.NotContains(t, ents, RoleFactory)
	require.NotContains(t, ents, RolePaymaster)

	op.InitCode = append(common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes(), 0x01)
	op.PaymasterAndData = common.HexToAddress("0x3333333333333333333333333333333333333333").Bytes()
	ents = op.Entities()
	require.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), ents[RoleFactory])
	require.Equal(t, common.HexToAddress("0x3333333333333333333333333333333333333333"), ents[RolePaymaster])
}

func TestCalldataCostBoundary(t *testing.T) {
	require.Equal(t, uint64(0), CalldataCost(nil))
	require.Equal(t, uint64(4), CalldataCost([]byte{0x00}))
	require.Equal(t, uint64(16), CalldataCost([]byte{0x01}))
	require.Equal(t, uint64(20), CalldataCost([]byte{0x00, 0xff}))
}

func TestEffectivePriorityFee(t *testing.T) {
	op := sampleOp() // maxFee 2gwei, maxPriority 1gwei
	baseFee := big.NewInt(500_000_000)
	// headroom = 2e9 - 5e8 = 1.5e9, priority = 1e9 -> min is 1e9
	require.Equal(t, big.NewInt(1_000_000_000), op.EffectivePriorityFee(baseFee))

	baseFee = big.NewInt(1_900_000_000)
	// headroom = 2e9 - 1.9e9 = 1e8, priority = 1e9 -> min is 1e8
	require.Equal(t, big.NewInt(100_000_000), op.EffectivePriorityFee(baseFee))
}
