package domain

// limitKind distinguishes the three-valued semantics of a configured rate or
// budget limit: inherit from the next scope, explicitly unlimited, or an
// explicit positive cap. This keeps the inherit/unlimited distinction out of
// band from the numeric value instead of overloading a bare *int with a
// "nil means what?" convention.
type limitKind int

const (
	limitInherit limitKind = iota
	limitUnlimited
	limitCap
)

// Limit is a tagged variant over a rate or budget limit value.
type Limit struct {
	kind limitKind
	cap  uint64
}

// Inherit reports that this scope defers to the next broader scope.
func Inherit() Limit { return Limit{kind: limitInherit} }

// Unlimited reports that this scope explicitly disables the check.
func Unlimited() Limit { return Limit{kind: limitUnlimited} }

// Cap reports an explicit positive ceiling.
func Cap(n uint64) Limit {
	if n == 0 {
		return Unlimited()
	}
	return Limit{kind: limitCap, cap: n}
}

// LimitFromNullable converts the database tri-state (nil = inherit, 0 =
// unlimited, >0 = cap) into a Limit.
func LimitFromNullable(v *int64) Limit {
	if v == nil {
		return Inherit()
	}
	if *v <= 0 {
		return Unlimited()
	}
	return Cap(uint64(*v))
}

func (l Limit) IsInherit() bool   { return l.kind == limitInherit }
func (l Limit) IsUnlimited() bool { return l.kind == limitUnlimited }
func (l Limit) IsCap() bool       { return l.kind == limitCap }
func (l Limit) Value() uint64     { return l.cap }

// ResolveLimit implements §3 invariant 3: token → dept (only if dept is
// enabled) → global. Returns the effective numeric ceiling and whether the
// dimension is unlimited (ceiling should not be enforced at all).
func ResolveLimit(token, dept Limit, deptEnabled bool, global Limit) (ceiling uint64, unlimited bool) {
	if token.IsCap() {
		return token.Value(), false
	}
	if token.IsUnlimited() {
		return 0, true
	}
	// token.IsInherit() falls through to dept.
	if deptEnabled {
		if dept.IsCap() {
			return dept.Value(), false
		}
		if dept.IsUnlimited() {
			return 0, true
		}
	}
	if global.IsCap() {
		return global.Value(), false
	}
	return 0, true
}
