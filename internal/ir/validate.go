package ir

import "fmt"

// MalformedError describes an operation that breaks the block invariants.
type MalformedError struct {
	Index  int
	Op     Op
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ir: malformed op %d (%s): %s", e.Index, e.Op, e.Reason)
}

// Validate performs a best-effort well-formedness check. Registers read
// before any write are treated as live-in and are not an error.
func Validate(b Block) error {
	for i, op := range b.Ops {
		if op == nil {
			return &MalformedError{Index: i, Reason: "nil operation"}
		}
		var reason string
		switch o := op.(type) {
		case Binary:
			if o.Kind <= OpInvalid || o.Kind > OpSar {
				reason = "unknown arithmetic kind"
			}
		case BinaryImm:
			if o.Kind <= OpInvalid || o.Kind > OpSar {
				reason = "unknown arithmetic kind"
			}
		case Load:
			if !ValidSize(o.Size) {
				reason = fmt.Sprintf("unsupported access size %d", o.Size)
			}
		case Store:
			if !ValidSize(o.Size) {
				reason = fmt.Sprintf("unsupported access size %d", o.Size)
			}
		case Cmp:
			if o.Cond < CompareEqual || o.Cond > CompareGreaterOrEqualUnsigned {
				reason = "unknown condition"
			}
		case Branch:
			if o.Cond < CompareEqual || o.Cond > CompareGreaterOrEqualUnsigned {
				reason = "unknown condition"
			}
		}
		if reason != "" {
			return &MalformedError{Index: i, Op: op, Reason: reason}
		}
	}
	return nil
}

// LiveIn returns the registers read before being written, in first-use order.
func LiveIn(b Block) []Reg {
	defined := make(map[Reg]bool)
	seen := make(map[Reg]bool)
	var (
		out []Reg
		buf []Reg
	)
	for _, op := range b.Ops {
		buf = op.Uses(buf[:0])
		for _, r := range buf {
			if !defined[r] && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
		if d, ok := op.Def(); ok {
			defined[d] = true
		}
	}
	return out
}
