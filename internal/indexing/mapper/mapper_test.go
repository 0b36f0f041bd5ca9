package mapper

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/chainrelay/internal/core/domain"
	"github.com/vietddude/chainrelay/internal/core/ledger"
	"github.com/vietddude/chainrelay/internal/core/ledger/ledgertest"
)

func hash28(b byte) []byte {
	h := make([]byte, 28)
	h[0] = b
	return h
}

func richTx() ledgertest.Tx {
	policy := string(hash28(0x50))
	txA := make([]byte, 32)
	txA[0] = 0xa1
	txB := make([]byte, 32)
	txB[0] = 0xb2

	return ledgertest.Tx{
		Inputs: []ledger.Input{{TxID: txA, Index: 0}, {TxID: txB, Index: 3}},
		Outputs: []ledgertest.Output{
			{Address: []byte{0x61, 0x01}, Coin: 1_000_000},
			{Address: []byte{0x61, 0x02}, Coin: 2_000_000, Assets: ledger.MultiAsset{
				policy: {"TOKEN": 5, "\x00\x01": 7},
			}},
		},
		Fee: 180000,
		Certificates: []any{
			[]any{uint64(0), []any{uint64(0), hash28(0x01)}},
			[]any{uint64(2), []any{uint64(0), hash28(0x01)}, hash28(0x99)},
			[]any{uint64(4), hash28(0x99), uint64(300)},
		},
		Collateral: []ledger.Input{{TxID: txA, Index: 1}},
		Mint:       ledger.MintAsset{policy: {"TOKEN": -2}},
		Metadata:   map[uint64]any{674: map[string]any{"msg": []any{"hello"}}},
		VKeys:      []ledger.VKeyWitness{{VKey: make([]byte, 32), Signature: make([]byte, 64)}},
		PlutusV2:   [][]byte{{0x01, 0x02, 0x03}},
		PlutusData: []any{uint64(42)},
	}
}

func encode(t *testing.T, b ledgertest.Block) domain.RawBlock {
	t.Helper()
	body, hash, err := ledgertest.Encode(b)
	require.NoError(t, err)
	return domain.RawBlock{Point: domain.Point{Slot: b.Slot, Hash: hash}, Body: body}
}

func kinds(events []*domain.Event) []domain.EventKind {
	out := make([]domain.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestMap_EventOrder(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 7, Slot: 4492900, Txs: []ledgertest.Tx{richTx()}})

	m := New(Config{IncludeTransactionEnd: true, IncludeBlockEnd: true}, domain.Mainnet)
	batch, err := m.Map(raw)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.KindBlock,
		domain.KindTransaction,
		domain.KindTxInput, domain.KindTxInput,
		domain.KindTxOutput,
		domain.KindTxOutput, domain.KindOutputAsset, domain.KindOutputAsset,
		domain.KindStakeRegistration, domain.KindStakeDelegation, domain.KindPoolRetirement,
		domain.KindCollateral,
		domain.KindMint,
		domain.KindMetadata,
		domain.KindVKeyWitness,
		domain.KindPlutusWitness,
		domain.KindPlutusDatum,
		domain.KindTransactionEnd,
		domain.KindBlockEnd,
	}, kinds(batch.Events))

	assert.True(t, batch.Point.Equal(raw.Point))
	assert.Equal(t, uint64(7), batch.BlockNumber)
}

func TestMap_EndEventsAreIndependent(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 7, Slot: 4492900, Txs: []ledgertest.Tx{ledgertest.SimpleTx(1, 5)}})

	blockOnly, err := New(Config{IncludeBlockEnd: true}, domain.Mainnet).Map(raw)
	require.NoError(t, err)
	got := kinds(blockOnly.Events)
	assert.Equal(t, domain.KindBlockEnd, got[len(got)-1])
	assert.NotContains(t, got, domain.KindTransactionEnd)

	txOnly, err := New(Config{IncludeTransactionEnd: true}, domain.Mainnet).Map(raw)
	require.NoError(t, err)
	got = kinds(txOnly.Events)
	assert.Equal(t, domain.KindTransactionEnd, got[len(got)-1])
	assert.NotContains(t, got, domain.KindBlockEnd)
}

func TestMap_Context(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 7, Slot: 4492900, Txs: []ledgertest.Tx{richTx()}})
	batch, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)

	for _, ev := range batch.Events {
		assert.Equal(t, raw.Point.HashHex(), ev.Context.BlockHash)
		assert.Equal(t, uint64(4492900), ev.Context.Slot)
		assert.Equal(t, uint64(7), ev.Context.BlockNumber)
		assert.Equal(t, uint64(1596059191), ev.Context.Timestamp)
		assert.Equal(t, "Babbage", ev.Context.Era)
		assert.True(t, ev.Context.Point().Equal(raw.Point))
	}

	block := batch.Events[0].Payload.(domain.BlockRecord)
	require.NotNil(t, block.Epoch)
	assert.Equal(t, uint64(208), *block.Epoch)
	assert.Equal(t, uint64(100), *block.EpochSlot)
	assert.Equal(t, 1, block.TxCount)
	assert.Empty(t, block.CBORHex)

	tx := batch.Events[1]
	require.NotNil(t, tx.Context.TxIdx)
	assert.Equal(t, 0, *tx.Context.TxIdx)
	assert.Len(t, tx.Context.TxHash, 64)
	rec := tx.Payload.(domain.TransactionRecord)
	assert.Equal(t, uint64(3_000_000), rec.TotalOutput)
	assert.Equal(t, 2, rec.InputCount)
	assert.True(t, rec.Valid)
	assert.Empty(t, rec.Inputs, "details are off")

	in := batch.Events[3]
	require.NotNil(t, in.Context.InputIdx)
	assert.Equal(t, 1, *in.Context.InputIdx)
	assert.Equal(t, uint64(3), in.Payload.(domain.TxInputRecord).Index)

	asset := batch.Events[6]
	require.Equal(t, domain.KindOutputAsset, asset.Kind)
	require.NotNil(t, asset.Context.OutputIdx)
	assert.Equal(t, 1, *asset.Context.OutputIdx)
	assert.Equal(t, ledger.AddressString([]byte{0x61, 0x02}), asset.Context.OutputAddress)
	assert.True(t, strings.HasPrefix(asset.Context.OutputAddress, "addr1"))
	ar := asset.Payload.(domain.OutputAssetRecord)
	assert.Equal(t, hex.EncodeToString(hash28(0x50)), ar.Policy)
	assert.Equal(t, "0001", ar.Asset, "assets are sorted by name")
	assert.Empty(t, ar.AssetASCII)
	assert.Equal(t, "TOKEN", batch.Events[7].Payload.(domain.OutputAssetRecord).AssetASCII)

	deleg := batch.Events[9]
	require.Equal(t, domain.KindStakeDelegation, deleg.Kind)
	require.NotNil(t, deleg.Context.CertificateIdx)
	assert.Equal(t, 1, *deleg.Context.CertificateIdx)
	assert.Equal(t, hex.EncodeToString(hash28(0x99)), deleg.Payload.(domain.StakeDelegationRecord).PoolHash)

	mint := batch.Events[12].Payload.(domain.MintRecord)
	assert.Equal(t, int64(-2), mint.Quantity)

	md := batch.Events[13].Payload.(domain.MetadataRecord)
	assert.Equal(t, "674", md.Label)
	assert.Equal(t, map[string]any{"msg": []any{"hello"}}, md.Content)

	plutus := batch.Events[15].Payload.(domain.PlutusWitnessRecord)
	assert.Equal(t, 2, plutus.Version)
	assert.Equal(t, "010203", plutus.ScriptHex)
	assert.Len(t, plutus.ScriptHash, 56)

	datum := batch.Events[16].Payload.(domain.PlutusDatumRecord)
	assert.Equal(t, uint64(42), datum.PlutusData)
}

func TestMap_OptionsChangeRichnessNotOrder(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 1, Slot: 5000000, Txs: []ledgertest.Tx{richTx(), ledgertest.SimpleTx(3, 10)}})

	plain, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)
	rich, err := New(Config{
		IncludeTransactionDetails: true,
		IncludeBlockDetails:       true,
		IncludeBlockCBOR:          true,
	}, domain.Mainnet).Map(raw)
	require.NoError(t, err)

	assert.Equal(t, kinds(plain.Events), kinds(rich.Events))

	block := rich.Events[0].Payload.(domain.BlockRecord)
	assert.Equal(t, hex.EncodeToString(raw.Body), block.CBORHex)
	assert.Len(t, block.Transactions, 2)

	tx := rich.Events[1].Payload.(domain.TransactionRecord)
	assert.Len(t, tx.Inputs, 2)
	assert.Len(t, tx.Outputs, 2)
	assert.Len(t, tx.Mint, 1)
	assert.Len(t, tx.Metadata, 1)
}

func TestMap_Deterministic(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 2, Slot: 5000010, Txs: []ledgertest.Tx{richTx()}})
	m := New(Config{IncludeTransactionDetails: true}, domain.Mainnet)

	first, err := m.Map(raw)
	require.NoError(t, err)
	second, err := m.Map(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMap_InvalidTransactionFlagged(t *testing.T) {
	bad := ledgertest.SimpleTx(9, 5)
	bad.Invalid = true
	raw := encode(t, ledgertest.Block{Number: 3, Slot: 5000020, Txs: []ledgertest.Tx{ledgertest.SimpleTx(1, 5), bad}})

	batch, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)

	var valid []bool
	for _, ev := range batch.Events {
		if ev.Kind == domain.KindTransaction {
			valid = append(valid, ev.Payload.(domain.TransactionRecord).Valid)
		}
	}
	assert.Equal(t, []bool{true, false}, valid)
}

func TestMap_EmptyBlock(t *testing.T) {
	raw := encode(t, ledgertest.Block{Number: 4, Slot: 5000030})
	batch, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventKind{domain.KindBlock}, kinds(batch.Events))
}

func TestMap_DecodeError(t *testing.T) {
	_, err := New(Config{}, domain.Mainnet).Map(domain.RawBlock{Point: domain.MustPoint(1, "01"), Body: []byte{0xff}})
	require.ErrorIs(t, err, domain.ErrDecode)
}

func scriptTx(redeemers any) ledgertest.Tx {
	tx := ledgertest.SimpleTx(9, 1_500_000)
	tx.NativeScript = []any{
		[]any{uint64(1), []any{
			[]any{uint64(0), hash28(0x0a)},
			[]any{uint64(5), uint64(5000)},
		}},
	}
	tx.PlutusV2 = [][]byte{{0x4e, 0x4d}}
	tx.Redeemers = redeemers
	tx.PlutusData = []any{uint64(7)}
	return tx
}

func TestMap_WitnessSetOrder(t *testing.T) {
	list := []any{
		[]any{uint64(0), uint64(0), uint64(42), []any{uint64(1200), uint64(350000)}},
		[]any{uint64(1), uint64(0), []byte{0xca, 0xfe}, []any{uint64(10), uint64(20)}},
	}
	raw := encode(t, ledgertest.Block{Number: 3, Slot: 4492900, Txs: []ledgertest.Tx{scriptTx(list)}})

	batch, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.KindBlock,
		domain.KindTransaction,
		domain.KindTxInput,
		domain.KindTxOutput,
		domain.KindVKeyWitness,
		domain.KindNativeWitness,
		domain.KindPlutusWitness,
		domain.KindPlutusRedeemer, domain.KindPlutusRedeemer,
		domain.KindPlutusDatum,
	}, kinds(batch.Events))

	native := batch.Events[5].Payload.(domain.NativeWitnessRecord)
	assert.Len(t, native.PolicyID, 56)
	script := native.ScriptJSON.(map[string]any)
	assert.Equal(t, "all", script["type"])
	children := script["scripts"].([]any)
	require.Len(t, children, 2)
	assert.Equal(t, "sig", children[0].(map[string]any)["type"])
	assert.Equal(t, hex.EncodeToString(hash28(0x0a)), children[0].(map[string]any)["keyHash"])
	assert.Equal(t, map[string]any{"type": "before", "slot": uint64(5000)}, children[1])

	spend := batch.Events[7].Payload.(domain.PlutusRedeemerRecord)
	assert.Equal(t, "spend", spend.Purpose)
	assert.Equal(t, uint64(0), spend.InputIdx)
	assert.Equal(t, uint64(1200), spend.ExUnitsMem)
	assert.Equal(t, uint64(350000), spend.ExUnitsSteps)
	assert.Equal(t, uint64(42), spend.PlutusData)

	mint := batch.Events[8].Payload.(domain.PlutusRedeemerRecord)
	assert.Equal(t, "mint", mint.Purpose)
	assert.Equal(t, "cafe", mint.PlutusData)
}

func TestMap_RedeemerMapForm(t *testing.T) {
	byKey := map[[2]uint64]any{
		{1, 0}: []any{uint64(2), []any{uint64(10), uint64(20)}},
		{0, 3}: []any{uint64(1), []any{uint64(30), uint64(40)}},
	}
	raw := encode(t, ledgertest.Block{Number: 3, Slot: 4492900, Txs: []ledgertest.Tx{scriptTx(byKey)}})

	batch, err := New(Config{}, domain.Mainnet).Map(raw)
	require.NoError(t, err)

	var redeemers []domain.PlutusRedeemerRecord
	for _, ev := range batch.Events {
		if ev.Kind == domain.KindPlutusRedeemer {
			redeemers = append(redeemers, ev.Payload.(domain.PlutusRedeemerRecord))
		}
	}
	require.Len(t, redeemers, 2)
	assert.Equal(t, "spend", redeemers[0].Purpose)
	assert.Equal(t, uint64(3), redeemers[0].InputIdx)
	assert.Equal(t, "mint", redeemers[1].Purpose)
	assert.Equal(t, uint64(20), redeemers[1].ExUnitsSteps)
}
