package ir

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseBlocks reads the textual form produced by Block.String. A "block"
// (or "pc") line starts a new block; operations before the first header go
// into a block at pc 0. Comments start with '#' or "//".
func ParseBlocks(r io.Reader) ([]Block, error) {
	var (
		blocks []Block
		cur    *Block
	)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.Index(text, "#"); i >= 0 {
			text = text[:i]
		}
		if i := strings.Index(text, "//"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		mnemonic, rest, _ := strings.Cut(text, " ")
		mnemonic = strings.ToLower(mnemonic)
		if mnemonic == "block" || mnemonic == "pc" {
			pc, err := parseUint(strings.TrimSpace(rest))
			if err != nil {
				return nil, fmt.Errorf("ir: line %d: bad pc: %w", line, err)
			}
			blocks = append(blocks, Block{PC: pc})
			cur = &blocks[len(blocks)-1]
			continue
		}

		op, err := parseOp(mnemonic, splitOperands(rest))
		if err != nil {
			return nil, fmt.Errorf("ir: line %d: %w", line, err)
		}
		if cur == nil {
			blocks = append(blocks, Block{})
			cur = &blocks[len(blocks)-1]
		}
		cur.Ops = append(cur.Ops, op)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ir: read: %w", err)
	}
	return blocks, nil
}

// Parse reads exactly one block.
func Parse(src string) (Block, error) {
	blocks, err := ParseBlocks(strings.NewReader(src))
	if err != nil {
		return Block{}, err
	}
	switch len(blocks) {
	case 0:
		return Block{}, nil
	case 1:
		return blocks[0], nil
	default:
		return Block{}, fmt.Errorf("ir: expected one block, found %d", len(blocks))
	}
}

// MustParse is Parse for tests and fixed tables.
func MustParse(src string) Block {
	b, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return b
}

var opKindByName = func() map[string]OpKind {
	m := make(map[string]OpKind)
	for k, name := range opKindNames {
		if OpKind(k) != OpInvalid {
			m[name] = OpKind(k)
		}
	}
	return m
}()

var compareKindByName = func() map[string]CompareKind {
	m := make(map[string]CompareKind)
	for c, name := range compareKindNames {
		m[name] = CompareKind(c)
	}
	return m
}()

func parseOp(mnemonic string, args []string) (Op, error) {
	base, suffix, _ := strings.Cut(mnemonic, ".")

	switch base {
	case "mov":
		if err := wantArgs(mnemonic, args, 2); err != nil {
			return nil, err
		}
		dst, src, err := parseRegs2(args[0], args[1])
		if err != nil {
			return nil, err
		}
		return Mov{Dst: dst, Src: src}, nil
	case "movi":
		if err := wantArgs(mnemonic, args, 2); err != nil {
			return nil, err
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		imm, err := parseImm(args[1])
		if err != nil {
			return nil, err
		}
		return MovImm{Dst: dst, Imm: imm}, nil
	case "load", "store":
		if err := wantArgs(mnemonic, args, 2); err != nil {
			return nil, err
		}
		size := uint8(8)
		if suffix != "" {
			n, err := strconv.ParseUint(suffix, 10, 8)
			if err != nil || !ValidSize(uint8(n)) {
				return nil, fmt.Errorf("bad access size %q", suffix)
			}
			size = uint8(n)
		}
		reg, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		b, off, err := parseAddress(args[1])
		if err != nil {
			return nil, err
		}
		if base == "load" {
			return Load{Dst: reg, Base: b, Offset: off, Size: size}, nil
		}
		return Store{Src: reg, Base: b, Offset: off, Size: size}, nil
	case "cmp":
		cond, ok := compareKindByName[suffix]
		if !ok {
			return nil, fmt.Errorf("unknown condition %q", suffix)
		}
		if err := wantArgs(mnemonic, args, 3); err != nil {
			return nil, err
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		a, b, err := parseRegs2(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return Cmp{Cond: cond, Dst: dst, Src1: a, Src2: b}, nil
	case "b":
		cond, ok := compareKindByName[suffix]
		if !ok {
			return nil, fmt.Errorf("unknown condition %q", suffix)
		}
		if err := wantArgs(mnemonic, args, 3); err != nil {
			return nil, err
		}
		a, b, err := parseRegs2(args[0], args[1])
		if err != nil {
			return nil, err
		}
		off, err := parseImm(args[2])
		if err != nil {
			return nil, err
		}
		return Branch{Cond: cond, Src1: a, Src2: b, Offset: off}, nil
	case "jmp":
		if err := wantArgs(mnemonic, args, 1); err != nil {
			return nil, err
		}
		off, err := parseImm(args[0])
		if err != nil {
			return nil, err
		}
		return Jump{Offset: off}, nil
	}

	if kind, ok := opKindByName[mnemonic]; ok {
		if err := wantArgs(mnemonic, args, 3); err != nil {
			return nil, err
		}
		dst, err := parseReg(args[0])
		if err != nil {
			return nil, err
		}
		a, b, err := parseRegs2(args[1], args[2])
		if err != nil {
			return nil, err
		}
		return Binary{Kind: kind, Dst: dst, Src1: a, Src2: b}, nil
	}
	if kind, ok := opKindByName[strings.TrimSuffix(mnemonic, "i")]; ok && strings.HasSuffix(mnemonic, "i") {
		if err := wantArgs(mnemonic, args, 3); err != nil {
			return nil, err
		}
		dst, src, err := parseRegs2(args[0], args[1])
		if err != nil {
			return nil, err
		}
		imm, err := parseImm(args[2])
		if err != nil {
			return nil, err
		}
		return BinaryImm{Kind: kind, Dst: dst, Src: src, Imm: imm}, nil
	}

	return nil, fmt.Errorf("unknown mnemonic %q", mnemonic)
}

func splitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func wantArgs(mnemonic string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: expected %d operands, got %d", mnemonic, n, len(args))
	}
	return nil
}

func parseReg(s string) (Reg, error) {
	if len(s) < 2 || (s[0] != 'r' && s[0] != 'v') {
		return 0, fmt.Errorf("bad register %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad register %q", s)
	}
	return Reg(n), nil
}

func parseRegs2(a, b string) (Reg, Reg, error) {
	ra, err := parseReg(a)
	if err != nil {
		return 0, 0, err
	}
	rb, err := parseReg(b)
	if err != nil {
		return 0, 0, err
	}
	return ra, rb, nil
}

// parseAddress accepts "[r1]", "[r1+8]" and "[r1-8]".
func parseAddress(s string) (Reg, int64, error) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return 0, 0, fmt.Errorf("bad address %q", s)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	i := strings.IndexAny(inner, "+-")
	if i < 0 {
		r, err := parseReg(inner)
		return r, 0, err
	}
	r, err := parseReg(strings.TrimSpace(inner[:i]))
	if err != nil {
		return 0, 0, err
	}
	off, err := parseImm(strings.ReplaceAll(inner[i:], " ", ""))
	if err != nil {
		return 0, 0, err
	}
	return r, off, nil
}

func parseImm(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	u, err := parseUint(s)
	if err != nil {
		return 0, fmt.Errorf("bad immediate %q", s)
	}
	return int64(u), nil
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "+"), 0, 64)
}
