package flagutil

import (
	"fmt"
	"strings"
)

// Pair is one "key:value" occurrence of a PairValue flag.
type Pair struct {
	Key   string
	Value string
}

// PairValue is a flag.Value for repeatable "key:value" flags such as
// "-server 8.8.8.8:eth0" or "-special-host example.com:eth1". Each
// occurrence is split on the first occurrence of sep and appended to the
// internal list; order of occurrence is preserved, matching the ordering
// guarantees the ring-based topology relies on.
type PairValue struct {
	sep   string
	pairs []Pair
}

// NewPairValue returns a PairValue that splits on sep (commonly ":").
func NewPairValue(sep string) *PairValue {
	return &PairValue{sep: sep}
}

// Set implements flag.Value. It errors if s does not contain sep.
func (t *PairValue) Set(s string) error {
	ix := strings.Index(s, t.sep)
	if ix < 0 {
		return fmt.Errorf("flagutil.PairValue: %q does not contain separator %q", s, t.sep)
	}
	t.pairs = append(t.pairs, Pair{Key: s[:ix], Value: s[ix+len(t.sep):]})

	return nil
}

// String implements flag.Value.
func (t *PairValue) String() string {
	parts := make([]string, 0, len(t.pairs))
	for _, p := range t.pairs {
		parts = append(parts, p.Key+t.sep+p.Value)
	}

	return strings.Join(parts, " ")
}

// Pairs returns a copy of the accumulated pairs in occurrence order.
func (t *PairValue) Pairs() []Pair {
	return append([]Pair{}, t.pairs...)
}

// NArg returns the number of pairs accumulated so far.
func (t *PairValue) NArg() int {
	return len(t.pairs)
}
