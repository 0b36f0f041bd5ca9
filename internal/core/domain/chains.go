package domain

import (
	"fmt"
	"strconv"
)

// ChainInfo holds the well-known time parameters of a network, used to turn
// slots into wall-clock timestamps and epochs.
type ChainInfo struct {
	Name              string
	Magic             uint64
	ByronEpochLength  uint64
	ByronSlotLength   uint64 // seconds
	ByronKnownSlot    uint64
	ByronKnownTime    uint64
	ShelleyEpochLen   uint64
	ShelleySlotLength uint64 // seconds
	ShelleyKnownSlot  uint64
	ShelleyKnownTime  uint64
	ShelleyKnownEpoch uint64
}

var (
	Mainnet = ChainInfo{
		Name:              "mainnet",
		Magic:             764824073,
		ByronEpochLength:  432000,
		ByronSlotLength:   20,
		ByronKnownSlot:    0,
		ByronKnownTime:    1506203091,
		ShelleyEpochLen:   432000,
		ShelleySlotLength: 1,
		ShelleyKnownSlot:  4492800,
		ShelleyKnownTime:  1596059091,
		ShelleyKnownEpoch: 208,
	}

	Preprod = ChainInfo{
		Name:              "preprod",
		Magic:             1,
		ByronEpochLength:  432000,
		ByronSlotLength:   20,
		ByronKnownSlot:    0,
		ByronKnownTime:    1654041600,
		ShelleyEpochLen:   432000,
		ShelleySlotLength: 1,
		ShelleyKnownSlot:  86400,
		ShelleyKnownTime:  1655769600,
		ShelleyKnownEpoch: 4,
	}

	Preview = ChainInfo{
		Name:              "preview",
		Magic:             2,
		ByronEpochLength:  432000,
		ByronSlotLength:   20,
		ByronKnownSlot:    0,
		ByronKnownTime:    1666656000,
		ShelleyEpochLen:   86400,
		ShelleySlotLength: 1,
		ShelleyKnownSlot:  0,
		ShelleyKnownTime:  1666656000,
		ShelleyKnownEpoch: 0,
	}
)

var knownChains = map[string]ChainInfo{
	Mainnet.Name: Mainnet,
	Preprod.Name: Preprod,
	Preview.Name: Preview,
}

// LookupChain resolves a network by name ("mainnet") or numeric magic.
// Unknown magics get mainnet timing with the given magic.
func LookupChain(magic string) (ChainInfo, error) {
	if magic == "" {
		return Mainnet, nil
	}
	if info, ok := knownChains[magic]; ok {
		return info, nil
	}
	n, err := strconv.ParseUint(magic, 10, 64)
	if err != nil {
		return ChainInfo{}, fmt.Errorf("%w: unknown network magic %q", ErrConfig, magic)
	}
	for _, info := range knownChains {
		if info.Magic == n {
			return info, nil
		}
	}
	custom := Mainnet
	custom.Name = "custom"
	custom.Magic = n
	return custom, nil
}

// SlotToTimestamp converts an absolute slot into unix seconds.
func (c ChainInfo) SlotToTimestamp(slot uint64) uint64 {
	if slot < c.ShelleyKnownSlot {
		return c.ByronKnownTime + (slot-c.ByronKnownSlot)*c.ByronSlotLength
	}
	return c.ShelleyKnownTime + (slot-c.ShelleyKnownSlot)*c.ShelleySlotLength
}

// SlotToEpoch returns the epoch and the slot within it.
func (c ChainInfo) SlotToEpoch(slot uint64) (epoch, epochSlot uint64) {
	if slot < c.ShelleyKnownSlot {
		byronEpochSlots := c.ByronEpochLength / c.ByronSlotLength
		return slot / byronEpochSlots, slot % byronEpochSlots
	}
	since := slot - c.ShelleyKnownSlot
	return c.ShelleyKnownEpoch + since/c.ShelleyEpochLen, since % c.ShelleyEpochLen
}

// Era ids used in the multi-era block envelope.
const (
	EraByronEBB uint64 = iota
	EraByron
	EraShelley
	EraAllegra
	EraMary
	EraAlonzo
	EraBabbage
	EraConway
)

var eraNames = []string{"ByronBoundary", "Byron", "Shelley", "Allegra", "Mary", "Alonzo", "Babbage", "Conway"}

// EraName returns a readable era name.
func EraName(era uint64) string {
	if era < uint64(len(eraNames)) {
		return eraNames[era]
	}
	return fmt.Sprintf("Era%d", era)
}
