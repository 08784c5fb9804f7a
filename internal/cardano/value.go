// internal/cardano/value.go
package cardano

// LovelaceUnit is the unit name the indexer reports for ada amounts.
const LovelaceUnit = "lovelace"

// Value is a multi-asset amount keyed by unit. The lovelace entry uses
// LovelaceUnit; native assets use policy id concatenated with the hex asset
// name. Quantities are minor units and never negative in a UTxO.
type Value map[string]int64

func NewValue() Value { return make(Value) }

func (v Value) Add(unit string, amount int64) Value {
	if unit == "" {
		unit = LovelaceUnit
	}
	v[unit] += amount
	if v[unit] == 0 {
		delete(v, unit)
	}
	return v
}

func (v Value) Lovelace() int64 { return v[LovelaceUnit] }

// Plus returns v + o without mutating either.
func (v Value) Plus(o Value) Value {
	out := NewValue()
	for unit, amount := range v {
		out[unit] += amount
	}
	for unit, amount := range o {
		out[unit] += amount
		if out[unit] == 0 {
			delete(out, unit)
		}
	}
	return out
}

// Minus returns v - o without mutating either. Entries may go negative; the
// caller decides whether that is meaningful (net-flow diffing relies on it).
func (v Value) Minus(o Value) Value {
	out := NewValue()
	for unit, amount := range v {
		out[unit] += amount
	}
	for unit, amount := range o {
		out[unit] -= amount
		if out[unit] == 0 {
			delete(out, unit)
		}
	}
	return out
}

// Covers reports whether an escrow output holding v satisfies the requested
// funds: lovelace must cover the requested amount plus the collateral to be
// returned, every other unit must match exactly.
func (v Value) Covers(requested Value, collateralReturn int64) bool {
	for unit, want := range requested {
		if unit == LovelaceUnit {
			if v[unit] < want+collateralReturn {
				return false
			}
			continue
		}
		if v[unit] != want {
			return false
		}
	}
	return true
}

// IsZero reports whether every entry nets to zero.
func (v Value) IsZero() bool {
	for _, amount := range v {
		if amount != 0 {
			return false
		}
	}
	return true
}
