package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vietddude/chainrelay/internal/core/domain"
)

// Mode decides what a Selection does with matching events.
type Mode string

const (
	ModeKeep Mode = "keep"
	ModeDrop Mode = "drop"
)

// Predicate matches events.
type Predicate interface {
	Match(ev *domain.Event) bool
}

// Selection keeps or drops events matching a predicate.
type Selection struct {
	mode Mode
	pred Predicate
}

// NewSelection creates a selection stage.
func NewSelection(mode Mode, pred Predicate) *Selection {
	return &Selection{mode: mode, pred: pred}
}

func (*Selection) Name() string { return "selection" }

// Apply implements Stage.
func (s *Selection) Apply(ev *domain.Event) (*domain.Event, Verdict) {
	if s.pred.Match(ev) == (s.mode == ModeKeep) {
		return ev, Pass
	}
	return nil, Drop
}

type variantIn map[domain.EventKind]struct{}

func (p variantIn) Match(ev *domain.Event) bool {
	_, ok := p[ev.Kind]
	return ok
}

type addressEquals string

func (p addressEquals) Match(ev *domain.Event) bool {
	want := string(p)
	if strings.EqualFold(ev.Context.OutputAddress, want) {
		return true
	}
	switch r := ev.Payload.(type) {
	case domain.TxOutputRecord:
		return strings.EqualFold(r.Address, want)
	case domain.TransactionRecord:
		for _, o := range r.Outputs {
			if strings.EqualFold(o.Address, want) {
				return true
			}
		}
	}
	return false
}

type policyEquals string

func (p policyEquals) Match(ev *domain.Event) bool {
	return anyAsset(ev, func(policy, _, _ string) bool {
		return strings.EqualFold(policy, string(p))
	})
}

// assetEquals matches the hex asset name or its printable form.
type assetEquals string

func (p assetEquals) Match(ev *domain.Event) bool {
	return anyAsset(ev, func(_, asset, ascii string) bool {
		return strings.EqualFold(asset, string(p)) || (ascii != "" && ascii == string(p))
	})
}

func anyAsset(ev *domain.Event, fn func(policy, asset, ascii string) bool) bool {
	outputs := func(outs []domain.TxOutputRecord) bool {
		for _, o := range outs {
			for _, a := range o.Assets {
				if fn(a.Policy, a.Asset, a.AssetASCII) {
					return true
				}
			}
		}
		return false
	}
	mints := func(ms []domain.MintRecord) bool {
		for _, m := range ms {
			if fn(m.Policy, m.Asset, "") {
				return true
			}
		}
		return false
	}

	switch r := ev.Payload.(type) {
	case domain.OutputAssetRecord:
		return fn(r.Policy, r.Asset, r.AssetASCII)
	case domain.MintRecord:
		return fn(r.Policy, r.Asset, "")
	case domain.TxOutputRecord:
		return outputs([]domain.TxOutputRecord{r})
	case domain.TransactionRecord:
		return outputs(r.Outputs) || mints(r.Mint)
	}
	return false
}

type metadataLabelEquals string

func (p metadataLabelEquals) Match(ev *domain.Event) bool {
	switch r := ev.Payload.(type) {
	case domain.MetadataRecord:
		return r.Label == string(p)
	case domain.TransactionRecord:
		for _, m := range r.Metadata {
			if m.Label == string(p) {
				return true
			}
		}
	}
	return false
}

// slotRange is inclusive; a nil bound is open.
type slotRange struct {
	from, to *uint64
}

func (p slotRange) Match(ev *domain.Event) bool {
	s := ev.Context.Slot
	if p.from != nil && s < *p.from {
		return false
	}
	if p.to != nil && s > *p.to {
		return false
	}
	return true
}

type allOf []Predicate

func (p allOf) Match(ev *domain.Event) bool {
	for _, c := range p {
		if !c.Match(ev) {
			return false
		}
	}
	return true
}

type anyOf []Predicate

func (p anyOf) Match(ev *domain.Event) bool {
	for _, c := range p {
		if c.Match(ev) {
			return true
		}
	}
	return false
}

type not struct{ inner Predicate }

func (p not) Match(ev *domain.Event) bool {
	return !p.inner.Match(ev)
}

type matchAll struct{}

func (matchAll) Match(*domain.Event) bool { return true }

// ParsePredicate builds a predicate tree from its configuration form. Each
// node is a single-key map; an empty map matches everything.
func ParsePredicate(raw map[string]any) (Predicate, error) {
	if len(raw) == 0 {
		return matchAll{}, nil
	}
	return parseNode(raw)
}

func parseNode(v any) (Predicate, error) {
	node, err := stringMap(v)
	if err != nil {
		return nil, err
	}
	if len(node) != 1 {
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("predicate must have exactly one operator, got %v", keys)
	}

	for op, arg := range node {
		switch op {
		case "variant_in":
			names, err := stringList(arg)
			if err != nil {
				return nil, fmt.Errorf("variant_in: %w", err)
			}
			set := variantIn{}
			for _, n := range names {
				k, err := domain.ParseEventKind(n)
				if err != nil {
					return nil, fmt.Errorf("variant_in: %w", err)
				}
				set[k] = struct{}{}
			}
			return set, nil
		case "address_equals":
			s, err := scalar(arg)
			return addressEquals(s), wrapOp(op, err)
		case "policy_equals":
			s, err := scalar(arg)
			return policyEquals(s), wrapOp(op, err)
		case "asset_equals":
			s, err := scalar(arg)
			return assetEquals(s), wrapOp(op, err)
		case "metadata_label_equals":
			s, err := scalar(arg)
			return metadataLabelEquals(s), wrapOp(op, err)
		case "slot_range":
			r, err := parseSlotRange(arg)
			return r, wrapOp(op, err)
		case "all_of", "any_of":
			items, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%s: expected a list", op)
			}
			children := make([]Predicate, 0, len(items))
			for _, item := range items {
				c, err := parseNode(item)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				children = append(children, c)
			}
			if op == "all_of" {
				return allOf(children), nil
			}
			return anyOf(children), nil
		case "not":
			inner, err := parseNode(arg)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			return not{inner}, nil
		default:
			return nil, fmt.Errorf("unknown predicate operator %q", op)
		}
	}
	panic("unreachable")
}

func wrapOp(op string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// stringMap accepts both map[string]any and the map[any]any yaml.v2
// produces for nested mappings.
func stringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a mapping, got %T", v)
}

func stringList(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, err := scalar(it)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("expected a scalar, got %T", v)
}

func toSlot(v any) (*uint64, error) {
	if v == nil {
		return nil, nil
	}
	s, err := scalar(v)
	if err != nil {
		return nil, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid slot %q", s)
	}
	return &n, nil
}

// parseSlotRange accepts {from, to} or [from, to].
func parseSlotRange(v any) (slotRange, error) {
	var from, to any
	if list, ok := v.([]any); ok {
		if len(list) != 2 {
			return slotRange{}, fmt.Errorf("expected [from, to]")
		}
		from, to = list[0], list[1]
	} else {
		m, err := stringMap(v)
		if err != nil {
			return slotRange{}, err
		}
		from, to = m["from"], m["to"]
	}

	var r slotRange
	var err error
	if r.from, err = toSlot(from); err != nil {
		return slotRange{}, err
	}
	if r.to, err = toSlot(to); err != nil {
		return slotRange{}, err
	}
	if r.from != nil && r.to != nil && *r.from > *r.to {
		return slotRange{}, fmt.Errorf("from %d is after to %d", *r.from, *r.to)
	}
	return r, nil
}
