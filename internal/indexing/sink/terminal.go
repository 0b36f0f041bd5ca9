package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Terminal prints one colored line per event.
type Terminal struct {
	logger *slog.Logger
	width  int
}

// NewTerminal writes to w, or stdout when w is nil. Content longer than width
// is truncated; width 0 disables truncation.
func NewTerminal(w io.Writer, width int, color bool) *Terminal {
	if w == nil {
		w = os.Stdout
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
		NoColor:    !color,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return &Terminal{logger: slog.New(h), width: width}
}

func (t *Terminal) Name() string { return "terminal" }

// Deliver implements Sink.
func (t *Terminal) Deliver(ctx context.Context, ev *domain.Event) error {
	label, content := summary(ev)
	if t.width > 0 && len(content) > t.width {
		content = content[:t.width] + "…"
	}

	attrs := []slog.Attr{slog.Uint64("block", ev.Context.BlockNumber)}
	if ev.Context.TxIdx != nil {
		attrs = append(attrs, slog.Int("tx", *ev.Context.TxIdx))
	}
	attrs = append(attrs, slog.String("data", content))
	t.logger.LogAttrs(ctx, levelFor(ev.Kind), label, attrs...)
	return nil
}

func (t *Terminal) Close() error { return nil }

// levelFor picks the level whose color tint uses for the line.
func levelFor(kind domain.EventKind) slog.Level {
	switch kind {
	case domain.KindBlock, domain.KindBlockEnd:
		return slog.LevelWarn
	case domain.KindTransaction, domain.KindTransactionEnd:
		return slog.LevelInfo
	case domain.KindMint, domain.KindOutputAsset, domain.KindMetadata:
		return slog.LevelError
	}
	return slog.LevelDebug
}

func summary(ev *domain.Event) (string, string) {
	switch r := ev.Payload.(type) {
	case domain.BlockRecord:
		if ev.Kind == domain.KindBlockEnd {
			return "ENDBLK", fmt.Sprintf("{ slot: %d, hash: %s, number: %d }", r.Slot, r.Hash, r.Number)
		}
		return "BLOCK", fmt.Sprintf("{ era: %s, slot: %d, hash: %s, number: %d, body size: %d, tx_count: %d, timestamp: %d }",
			r.Era, r.Slot, r.Hash, r.Number, r.BodySize, r.TxCount, ev.Context.Timestamp)
	case domain.TransactionRecord:
		if ev.Kind == domain.KindTransactionEnd {
			return "ENDTX", fmt.Sprintf("{ hash: %s }", r.Hash)
		}
		return "TX", fmt.Sprintf("{ total_output: %d, fee: %d, hash: %s }", r.TotalOutput, r.Fee, r.Hash)
	case domain.TxInputRecord:
		return "STXI", fmt.Sprintf("{ tx_id: %s, index: %d }", r.TxID, r.Index)
	case domain.TxOutputRecord:
		return "UTXO", fmt.Sprintf("{ to: %s, amount: %d }", r.Address, r.Amount)
	case domain.OutputAssetRecord:
		name := r.AssetASCII
		if name == "" {
			name = r.Asset
		}
		return "ASSET", fmt.Sprintf("{ policy: %s, asset: %s, amount: %d }", r.Policy, name, r.Amount)
	case domain.MintRecord:
		return "MINT", fmt.Sprintf("{ policy: %s, asset: %s, quantity: %d }", r.Policy, r.Asset, r.Quantity)
	case domain.MetadataRecord:
		return "META", fmt.Sprintf("{ label: %s, content: %v }", r.Label, r.Content)
	case domain.CollateralRecord:
		return "COLLAT", fmt.Sprintf("{ tx_id: %s, index: %d }", r.TxID, r.Index)
	case domain.StakeRegistrationRecord:
		return "STAKE+", fmt.Sprintf("{ credential: %s }", r.Credential.Hash)
	case domain.StakeDeregistrationRecord:
		return "STAKE-", fmt.Sprintf("{ credential: %s }", r.Credential.Hash)
	case domain.StakeDelegationRecord:
		return "DELE", fmt.Sprintf("{ credential: %s, pool: %s }", r.Credential.Hash, r.PoolHash)
	case domain.PoolRegistrationRecord:
		return "POOL+", fmt.Sprintf("{ operator: %s, pledge: %d, cost: %d }", r.Operator, r.Pledge, r.Cost)
	case domain.PoolRetirementRecord:
		return "POOL-", fmt.Sprintf("{ pool: %s, epoch: %d }", r.Pool, r.Epoch)
	case domain.VKeyWitnessRecord:
		return "WITNESS", fmt.Sprintf("{ vkey: %s }", r.VKey)
	case domain.NativeWitnessRecord:
		return "NATIVE", fmt.Sprintf("{ policy: %s, script: %v }", r.PolicyID, r.ScriptJSON)
	case domain.PlutusRedeemerRecord:
		return "REDEEM", fmt.Sprintf("{ purpose: %s, input: %d, mem: %d, steps: %d }", r.Purpose, r.InputIdx, r.ExUnitsMem, r.ExUnitsSteps)
	case domain.PlutusWitnessRecord:
		return "PLUTUS", fmt.Sprintf("{ version: %d, script_hash: %s }", r.Version, r.ScriptHash)
	case domain.PlutusDatumRecord:
		return "DATUM", fmt.Sprintf("{ hash: %s, data: %v }", r.DatumHash, r.PlutusData)
	}
	return "EVENT", fmt.Sprintf("{ kind: %s, data: %v }", ev.Kind, ev.Payload)
}
