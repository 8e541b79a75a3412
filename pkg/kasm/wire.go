package kasm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// UnitVersion is the current unit file format version. Increment when
// making incompatible changes to the format.
const UnitVersion = 1

// Canonical encoding keeps unit files deterministic: the same module
// always serializes to the same bytes, which the build cache keys on.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("kasm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireModule struct {
	Version      int            `cbor:"version"`
	Name         string         `cbor:"name"`
	Exports      []Export       `cbor:"exports"`
	Attributes   []Attribute    `cbor:"attributes"`
	Functions    []wireFunction `cbor:"functions"`
	LiteralCount int            `cbor:"literal_count"`
}

type wireFunction struct {
	Name  string `cbor:"name"`
	Arity int    `cbor:"arity"`
	Entry int    `cbor:"entry"`
	Code  []any  `cbor:"code"`
}

// MarshalModule serializes a Module to canonical CBOR bytes.
func MarshalModule(m *Module) ([]byte, error) {
	w := wireModule{
		Version:      UnitVersion,
		Name:         m.Name,
		Exports:      m.Exports,
		Attributes:   m.Attributes,
		LiteralCount: m.LiteralCount,
	}
	for _, fn := range m.Functions {
		code := make([]any, len(fn.Code))
		for k, i := range fn.Code {
			t, err := instrToTerm(i)
			if err != nil {
				return nil, fmt.Errorf("kasm: marshal %s/%d: %w", fn.Name, fn.Arity, err)
			}
			code[k] = t
		}
		w.Functions = append(w.Functions, wireFunction{
			Name:  fn.Name,
			Arity: fn.Arity,
			Entry: fn.Entry,
			Code:  code,
		})
	}
	return cborEncMode.Marshal(w)
}

// UnmarshalModule deserializes a Module from CBOR bytes.
func UnmarshalModule(data []byte) (*Module, error) {
	var w wireModule
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("kasm: unmarshal unit: %w", err)
	}
	if w.Version > UnitVersion {
		return nil, fmt.Errorf("kasm: unit version %d is newer than supported version %d", w.Version, UnitVersion)
	}
	m := &Module{
		Name:         w.Name,
		Exports:      w.Exports,
		Attributes:   w.Attributes,
		LiteralCount: w.LiteralCount,
	}
	for _, fn := range w.Functions {
		code := make([]Instr, len(fn.Code))
		for k, t := range fn.Code {
			i, err := termToInstr(t)
			if err != nil {
				return nil, fmt.Errorf("kasm: unmarshal %s/%d instruction %d: %w", fn.Name, fn.Arity, k, err)
			}
			code[k] = i
		}
		m.Functions = append(m.Functions, Function{
			Name:  fn.Name,
			Arity: fn.Arity,
			Entry: fn.Entry,
			Code:  code,
		})
	}
	return m, nil
}

func instrToTerm(i Instr) ([]any, error) {
	switch i := i.(type) {
	case Label:
		return []any{"label", i.L}, nil
	case FuncInfo:
		return []any{"func_info", i.Mod, i.Name, i.Arity}, nil
	case Jump:
		return []any{"jump", i.To.L}, nil
	case Test:
		if i.Dst != nil {
			return []any{"test", i.Name, i.Fail.L, i.Live, argsToTerm(i.Args), argToTerm(i.Dst)}, nil
		}
		return []any{"test", i.Name, i.Fail.L, argsToTerm(i.Args)}, nil
	case SelectVal:
		return []any{"select_val", argToTerm(i.Src), i.Fail.L, casesToTerm(i.Cases)}, nil
	case SelectTupleArity:
		return []any{"select_tuple_arity", argToTerm(i.Src), i.Fail.L, casesToTerm(i.Cases)}, nil
	case Call:
		return []any{"call", i.Arity, i.Entry}, nil
	case CallLast:
		return []any{"call_last", i.Arity, i.Entry, i.Dealloc}, nil
	case CallOnly:
		return []any{"call_only", i.Arity, i.Entry}, nil
	case CallExt:
		return []any{"call_ext", i.Arity, i.Func.Mod, i.Func.Name, i.Func.Arity}, nil
	case CallExtLast:
		return []any{"call_ext_last", i.Arity, i.Func.Mod, i.Func.Name, i.Func.Arity, i.Dealloc}, nil
	case CallExtOnly:
		return []any{"call_ext_only", i.Arity, i.Func.Mod, i.Func.Name, i.Func.Arity}, nil
	case ApplyLast:
		return []any{"apply_last", i.Arity, i.Dealloc}, nil
	case Return:
		return []any{"return"}, nil
	case Wait:
		return []any{"wait", i.L.L}, nil
	case WaitTimeout:
		return []any{"wait_timeout", i.L.L, argToTerm(i.Timeout)}, nil
	case LoopRec:
		return []any{"loop_rec", i.L.L, argToTerm(i.Dst)}, nil
	case LoopRecEnd:
		return []any{"loop_rec_end", i.L.L}, nil
	case Try:
		return []any{"try", argToTerm(i.Reg), i.L.L}, nil
	case Catch:
		return []any{"catch", argToTerm(i.Reg), i.L.L}, nil
	case Kill:
		return []any{"kill", argToTerm(i.Y)}, nil
	case Deallocate:
		return []any{"deallocate", i.N}, nil
	case Move:
		return []any{"move", argToTerm(i.Src), argToTerm(i.Dst)}, nil
	case Block:
		ops := make([]any, len(i.Ops))
		for k, op := range i.Ops {
			t, err := blockOpToTerm(op)
			if err != nil {
				return nil, err
			}
			ops[k] = t
		}
		return []any{"block", ops}, nil
	case Bif:
		return []any{"bif", i.Name, i.Fail.L, argsToTerm(i.Args), argToTerm(i.Dst)}, nil
	case GcBif:
		return []any{"gc_bif", i.Name, i.Fail.L, i.Live, argsToTerm(i.Args), argToTerm(i.Dst)}, nil
	case BsInit2:
		return []any{"bs_init2", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsInitBits:
		return []any{"bs_init_bits", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutInteger:
		return []any{"bs_put_integer", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutFloat:
		return []any{"bs_put_float", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutBinary:
		return []any{"bs_put_binary", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutUtf8:
		return []any{"bs_put_utf8", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutUtf16:
		return []any{"bs_put_utf16", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsPutUtf32:
		return []any{"bs_put_utf32", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsAdd:
		return []any{"bs_add", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsAppend:
		return []any{"bs_append", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsUtf8Size:
		return []any{"bs_utf8_size", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsUtf16Size:
		return []any{"bs_utf16_size", i.Fail.L, argsToTerm(i.Args)}, nil
	case BsContextToBinary:
		return []any{"bs_context_to_binary", argToTerm(i.Src)}, nil
	case CaseEnd:
		return []any{"case_end", argToTerm(i.Val)}, nil
	case IfEnd:
		return []any{"if_end"}, nil
	case TryCaseEnd:
		return []any{"try_case_end", argToTerm(i.Val)}, nil
	case Badmatch:
		return []any{"badmatch", argToTerm(i.Val)}, nil
	case Raw:
		return []any{"raw", i.Name, argsToTerm(i.Args)}, nil
	default:
		return nil, fmt.Errorf("no wire encoding for %T", i)
	}
}

func termToInstr(t any) (Instr, error) {
	d := newTermDecoder(t)
	op, err := d.str()
	if err != nil {
		return nil, err
	}
	switch op {
	case "label":
		return Label{L: d.int()}, d.done()
	case "func_info":
		return FuncInfo{Mod: d.mustStr(), Name: d.mustStr(), Arity: d.int()}, d.done()
	case "jump":
		return Jump{To: Ref(d.int())}, d.done()
	case "test":
		name := d.mustStr()
		fail := Ref(d.int())
		if d.remaining() == 1 {
			return Test{Name: name, Fail: fail, Args: d.args()}, d.done()
		}
		return Test{Name: name, Fail: fail, Live: d.int(), Args: d.args(), Dst: d.arg()}, d.done()
	case "select_val":
		return SelectVal{Src: d.arg(), Fail: Ref(d.int()), Cases: d.cases()}, d.done()
	case "select_tuple_arity":
		return SelectTupleArity{Src: d.arg(), Fail: Ref(d.int()), Cases: d.cases()}, d.done()
	case "call":
		return Call{Arity: d.int(), Entry: d.int()}, d.done()
	case "call_last":
		return CallLast{Arity: d.int(), Entry: d.int(), Dealloc: d.int()}, d.done()
	case "call_only":
		return CallOnly{Arity: d.int(), Entry: d.int()}, d.done()
	case "call_ext":
		return CallExt{Arity: d.int(), Func: d.mfa()}, d.done()
	case "call_ext_last":
		return CallExtLast{Arity: d.int(), Func: d.mfa(), Dealloc: d.int()}, d.done()
	case "call_ext_only":
		return CallExtOnly{Arity: d.int(), Func: d.mfa()}, d.done()
	case "apply_last":
		return ApplyLast{Arity: d.int(), Dealloc: d.int()}, d.done()
	case "return":
		return Return{}, d.done()
	case "wait":
		return Wait{L: Ref(d.int())}, d.done()
	case "wait_timeout":
		return WaitTimeout{L: Ref(d.int()), Timeout: d.arg()}, d.done()
	case "loop_rec":
		return LoopRec{L: Ref(d.int()), Dst: d.arg()}, d.done()
	case "loop_rec_end":
		return LoopRecEnd{L: Ref(d.int())}, d.done()
	case "try":
		return Try{Reg: d.arg(), L: Ref(d.int())}, d.done()
	case "catch":
		return Catch{Reg: d.arg(), L: Ref(d.int())}, d.done()
	case "kill":
		return Kill{Y: d.arg()}, d.done()
	case "deallocate":
		return Deallocate{N: d.int()}, d.done()
	case "move":
		return Move{Src: d.arg(), Dst: d.arg()}, d.done()
	case "block":
		raw := d.list()
		ops := make([]BlockOp, len(raw))
		for k, t := range raw {
			op, err := termToBlockOp(t)
			if err != nil {
				return nil, err
			}
			ops[k] = op
		}
		return Block{Ops: ops}, d.done()
	case "bif":
		return Bif{Name: d.mustStr(), Fail: Ref(d.int()), Args: d.args(), Dst: d.arg()}, d.done()
	case "gc_bif":
		return GcBif{Name: d.mustStr(), Fail: Ref(d.int()), Live: d.int(), Args: d.args(), Dst: d.arg()}, d.done()
	case "bs_init2":
		return BsInit2{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_init_bits":
		return BsInitBits{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_integer":
		return BsPutInteger{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_float":
		return BsPutFloat{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_binary":
		return BsPutBinary{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_utf8":
		return BsPutUtf8{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_utf16":
		return BsPutUtf16{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_put_utf32":
		return BsPutUtf32{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_add":
		return BsAdd{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_append":
		return BsAppend{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_utf8_size":
		return BsUtf8Size{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_utf16_size":
		return BsUtf16Size{Fail: Ref(d.int()), Args: d.args()}, d.done()
	case "bs_context_to_binary":
		return BsContextToBinary{Src: d.arg()}, d.done()
	case "case_end":
		return CaseEnd{Val: d.arg()}, d.done()
	case "if_end":
		return IfEnd{}, d.done()
	case "try_case_end":
		return TryCaseEnd{Val: d.arg()}, d.done()
	case "badmatch":
		return Badmatch{Val: d.arg()}, d.done()
	case "raw":
		return Raw{Name: d.mustStr(), Args: d.args()}, d.done()
	default:
		return nil, fmt.Errorf("unknown instruction %q", op)
	}
}

func blockOpToTerm(op BlockOp) ([]any, error) {
	switch op := op.(type) {
	case BlockSet:
		return []any{"set", argToTerm(op.Dst), argToTerm(op.Src)}, nil
	case BlockBif:
		return []any{"bif", op.Name, op.Fail.L, argsToTerm(op.Args), argToTerm(op.Dst)}, nil
	case BlockAlloc:
		if op.GC != nil {
			return []any{"alloc", op.Need, op.Live, op.GC.Name, op.GC.Fail.L}, nil
		}
		return []any{"alloc", op.Need, op.Live}, nil
	case BlockCatch:
		return []any{"catch", op.Fail.L}, nil
	case BlockRaw:
		return []any{"raw", op.Name, argsToTerm(op.Args)}, nil
	default:
		return nil, fmt.Errorf("no wire encoding for block op %T", op)
	}
}

func termToBlockOp(t any) (BlockOp, error) {
	d := newTermDecoder(t)
	op, err := d.str()
	if err != nil {
		return nil, err
	}
	switch op {
	case "set":
		return BlockSet{Dst: d.arg(), Src: d.arg()}, d.done()
	case "bif":
		return BlockBif{Name: d.mustStr(), Fail: Ref(d.int()), Args: d.args(), Dst: d.arg()}, d.done()
	case "alloc":
		need, live := d.int(), d.int()
		if d.remaining() == 0 {
			return BlockAlloc{Need: need, Live: live}, d.done()
		}
		return BlockAlloc{Need: need, Live: live, GC: &BlockGcBif{Name: d.mustStr(), Fail: Ref(d.int())}}, d.done()
	case "catch":
		return BlockCatch{Fail: Ref(d.int())}, d.done()
	case "raw":
		return BlockRaw{Name: d.mustStr(), Args: d.args()}, d.done()
	default:
		return nil, fmt.Errorf("unknown block op %q", op)
	}
}

func argsToTerm(args []Arg) []any {
	out := make([]any, len(args))
	for k, a := range args {
		out[k] = argToTerm(a)
	}
	return out
}

func argToTerm(a Arg) any {
	switch a := a.(type) {
	case nil:
		return nil
	case XReg:
		return []any{"x", a.N}
	case YReg:
		return []any{"y", a.N}
	case Atom:
		return []any{"atom", a.Name}
	case Int:
		return []any{"int", a.V}
	case Lit:
		return []any{"lit", a.Text}
	default:
		return []any{"lit", a.String()}
	}
}

func casesToTerm(cases []Case) []any {
	// Cases serialize as a flat list alternating value and target.
	out := make([]any, 0, 2*len(cases))
	for _, c := range cases {
		out = append(out, argToTerm(c.Value), c.Target.L)
	}
	return out
}
