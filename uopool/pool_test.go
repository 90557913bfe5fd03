package uopool

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zsluedem/aa-bundler/entity"
	"github.com/zsluedem/aa-bundler/kv"
)

func newPool(t *testing.T) *Pool {
	t.Helper()
	return New(kv.NewMemory(), 1<<20)
}

func opWithFees(sender common.Address, nonce int64, maxFee, priorityFee int64) *entity.UserOperation {
	return &entity.UserOperation{
		Sender:               sender,
		Nonce:                big.NewInt(nonce),
		InitCode:             []byte{},
		CallData:             []byte{0x01},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(maxFee),
		MaxPriorityFeePerGas: big.NewInt(priorityFee),
		PaymasterAndData:     []byte{},
		Signature:            []byte{0x01},
	}
}

func hashOf(op *entity.UserOperation) common.Hash {
	return op.Hash(common.HexToAddress("0xe0"), big.NewInt(1))
}

func TestAddAndGet(t *testing.T) {
	p := newPool(t)
	sender := common.HexToAddress("0x1")
	op := opWithFees(sender, 1, 2e9, 1e9)
	h := hashOf(op)

	require.NoError(t, p.Add(op, h))

	got, ok := p.Get(h)
	require.True(t, ok)
	require.Equal(t, op.Sender, got.Sender)
	require.Equal(t, 1, p.Len())
}

func TestReplacementRequiresTenPercentBump(t *testing.T) {
	p := newPool(t)
	sender := common.HexToAddress("0x2")
	original := opWithFees(sender, 1, 100, 100)
	require.NoError(t, p.Add(original, hashOf(original)))

	tooSmallBump := opWithFees(sender, 1, 105, 105)
	err := p.Add(tooSmallBump, hashOf(tooSmallBump))
	require.Error(t, err)
	var replacementErr *ReplacementUnderpriced
	require.ErrorAs(t, err, &replacementErr)

	bigEnoughBump := opWithFees(sender, 1, 111, 111)
	require.NoError(t, p.Add(bigEnoughBump, hashOf(bigEnoughBump)))
	require.Equal(t, 1, p.Len(), "replacement must not leave two entries for the same (sender, nonce)")
}

func TestRemoveClearsAllIndices(t *testing.T) {
	p := newPool(t)
	sender := common.HexToAddress("0x3")
	op := opWithFees(sender, 1, 100, 100)
	h := hashOf(op)
	require.NoError(t, p.Add(op, h))

	p.Remove(h)
	_, ok := p.Get(h)
	require.False(t, ok)
	require.Zero(t, p.Len())
}

func TestRemoveByEntityCascades(t *testing.T) {
	p := newPool(t)
	paymaster := common.HexToAddress("0xfeed")
	op1 := opWithFees(common.HexToAddress("0x10"), 1, 100, 100)
	op1.PaymasterAndData = paymaster.Bytes()
	op2 := opWithFees(common.HexToAddress("0x11"), 1, 100, 100)
	op2.PaymasterAndData = paymaster.Bytes()
	op3 := opWithFees(common.HexToAddress("0x12"), 1, 100, 100) // unrelated

	require.NoError(t, p.Add(op1, hashOf(op1)))
	require.NoError(t, p.Add(op2, hashOf(op2)))
	require.NoError(t, p.Add(op3, hashOf(op3)))

	p.RemoveByEntity(paymaster)

	require.Equal(t, 1, p.Len())
	_, ok := p.Get(hashOf(op3))
	require.True(t, ok)
}

func TestGetSortedOrdersByEffectivePriorityFeeDescending(t *testing.T) {
	p := newPool(t)
	low := opWithFees(common.HexToAddress("0x20"), 1, 10, 5)
	high := opWithFees(common.HexToAddress("0x21"), 1, 100, 50)
	mid := opWithFees(common.HexToAddress("0x22"), 1, 50, 20)

	require.NoError(t, p.Add(low, hashOf(low)))
	require.NoError(t, p.Add(high, hashOf(high)))
	require.NoError(t, p.Add(mid, hashOf(mid)))

	sorted := p.GetSorted(big.NewInt(0))
	require.Len(t, sorted, 3)
	require.Equal(t, high.Sender, sorted[0].Sender)
	require.Equal(t, mid.Sender, sorted[1].Sender)
	require.Equal(t, low.Sender, sorted[2].Sender)
}

func TestGetSortedIsPermutationOfGetAll(t *testing.T) {
	p := newPool(t)
	for i := int64(0); i < 5; i++ {
		op := opWithFees(common.BigToAddress(big.NewInt(i+1)), 1, 10*(i+1), i+1)
		require.NoError(t, p.Add(op, hashOf(op)))
	}

	all := p.GetAll()
	sorted := p.GetSorted(big.NewInt(0))
	require.ElementsMatch(t, all, sorted)
}

func TestCodeHashesRoundTripThroughCacheAndStore(t *testing.T) {
	p := newPool(t)
	op := opWithFees(common.HexToAddress("0x30"), 1, 100, 100)
	h := hashOf(op)
	require.NoError(t, p.Add(op, h))

	chs := []CodeHash{{Address: common.HexToAddress("0x99"), Hash: common.HexToHash("0xaa")}}
	require.NoError(t, p.SetCodeHashes(h, chs))

	got, err := p.GetCodeHashes(h)
	require.NoError(t, err)
	require.Equal(t, chs, got)

	require.NoError(t, p.ClearCodeHashes(h))
	got, err = p.GetCodeHashes(h)
	require.NoError(t, err)
	require.Empty(t, got)
}
