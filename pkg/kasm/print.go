package kasm

import (
	"fmt"
	"strings"
)

// InstrString renders a single instruction on one line. The rendering is
// exact: two instructions render identically iff they are structurally
// equal, which the optimizer relies on when it keys shared tails.
func InstrString(i Instr) string {
	switch i := i.(type) {
	case Label:
		return fmt.Sprintf("L%d:", i.L)
	case FuncInfo:
		return fmt.Sprintf("func_info %s:%s/%d", i.Mod, i.Name, i.Arity)
	case Jump:
		return fmt.Sprintf("jump %s", refString(i.To))
	case Test:
		if i.Dst != nil {
			return fmt.Sprintf("test %s %s %d %s => %s",
				i.Name, refString(i.Fail), i.Live, argList(i.Args), i.Dst)
		}
		return fmt.Sprintf("test %s %s %s", i.Name, refString(i.Fail), argList(i.Args))
	case SelectVal:
		return fmt.Sprintf("select_val %s %s %s", i.Src, refString(i.Fail), caseList(i.Cases))
	case SelectTupleArity:
		return fmt.Sprintf("select_tuple_arity %s %s %s", i.Src, refString(i.Fail), caseList(i.Cases))
	case Call:
		return fmt.Sprintf("call %d L%d", i.Arity, i.Entry)
	case CallLast:
		return fmt.Sprintf("call_last %d L%d %d", i.Arity, i.Entry, i.Dealloc)
	case CallOnly:
		return fmt.Sprintf("call_only %d L%d", i.Arity, i.Entry)
	case CallExt:
		return fmt.Sprintf("call_ext %d %s", i.Arity, mfaString(i.Func))
	case CallExtLast:
		return fmt.Sprintf("call_ext_last %d %s %d", i.Arity, mfaString(i.Func), i.Dealloc)
	case CallExtOnly:
		return fmt.Sprintf("call_ext_only %d %s", i.Arity, mfaString(i.Func))
	case ApplyLast:
		return fmt.Sprintf("apply_last %d %d", i.Arity, i.Dealloc)
	case Return:
		return "return"
	case Wait:
		return fmt.Sprintf("wait %s", refString(i.L))
	case WaitTimeout:
		return fmt.Sprintf("wait_timeout %s %s", refString(i.L), i.Timeout)
	case LoopRec:
		return fmt.Sprintf("loop_rec %s %s", refString(i.L), i.Dst)
	case LoopRecEnd:
		return fmt.Sprintf("loop_rec_end %s", refString(i.L))
	case Try:
		return fmt.Sprintf("try %s %s", i.Reg, refString(i.L))
	case Catch:
		return fmt.Sprintf("catch %s %s", i.Reg, refString(i.L))
	case Kill:
		return fmt.Sprintf("kill %s", i.Y)
	case Deallocate:
		return fmt.Sprintf("deallocate %d", i.N)
	case Move:
		return fmt.Sprintf("move %s, %s", i.Src, i.Dst)
	case Block:
		return fmt.Sprintf("block %s", blockString(i.Ops))
	case Bif:
		return fmt.Sprintf("bif %s %s %s => %s", i.Name, refString(i.Fail), argList(i.Args), i.Dst)
	case GcBif:
		return fmt.Sprintf("gc_bif %s %s %d %s => %s", i.Name, refString(i.Fail), i.Live, argList(i.Args), i.Dst)
	case BsInit2:
		return bsString("bs_init2", i.Fail, i.Args)
	case BsInitBits:
		return bsString("bs_init_bits", i.Fail, i.Args)
	case BsPutInteger:
		return bsString("bs_put_integer", i.Fail, i.Args)
	case BsPutFloat:
		return bsString("bs_put_float", i.Fail, i.Args)
	case BsPutBinary:
		return bsString("bs_put_binary", i.Fail, i.Args)
	case BsPutUtf8:
		return bsString("bs_put_utf8", i.Fail, i.Args)
	case BsPutUtf16:
		return bsString("bs_put_utf16", i.Fail, i.Args)
	case BsPutUtf32:
		return bsString("bs_put_utf32", i.Fail, i.Args)
	case BsAdd:
		return bsString("bs_add", i.Fail, i.Args)
	case BsAppend:
		return bsString("bs_append", i.Fail, i.Args)
	case BsUtf8Size:
		return bsString("bs_utf8_size", i.Fail, i.Args)
	case BsUtf16Size:
		return bsString("bs_utf16_size", i.Fail, i.Args)
	case BsContextToBinary:
		return fmt.Sprintf("bs_context_to_binary %s", i.Src)
	case CaseEnd:
		return fmt.Sprintf("case_end %s", i.Val)
	case IfEnd:
		return "if_end"
	case TryCaseEnd:
		return fmt.Sprintf("try_case_end %s", i.Val)
	case Badmatch:
		return fmt.Sprintf("badmatch %s", i.Val)
	case Raw:
		return fmt.Sprintf("%s %s", i.Name, argList(i.Args))
	default:
		return fmt.Sprintf("<unknown %T>", i)
	}
}

// Format renders an instruction stream as a listing, labels flush left
// and everything else indented.
func Format(is []Instr) string {
	var sb strings.Builder
	for _, i := range is {
		if _, ok := i.(Label); !ok {
			sb.WriteString("    ")
		}
		sb.WriteString(InstrString(i))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Listing renders the function header and body.
func (f Function) Listing() string {
	return fmt.Sprintf("; function %s/%d entry=L%d\n%s", f.Name, f.Arity, f.Entry, Format(f.Code))
}

func refString(r LabelRef) string {
	if !r.IsSet() {
		return "L?"
	}
	return fmt.Sprintf("L%d", r.L)
}

func mfaString(f MFA) string {
	return fmt.Sprintf("%s:%s/%d", f.Mod, f.Name, f.Arity)
}

func argList(args []Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func caseList(cases []Case) string {
	parts := make([]string, len(cases))
	for i, c := range cases {
		parts[i] = fmt.Sprintf("%s->%s", c.Value, refString(c.Target))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func bsString(name string, fail LabelRef, args []Arg) string {
	return fmt.Sprintf("%s %s %s", name, refString(fail), argList(args))
}

func blockString(ops []BlockOp) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		switch op := op.(type) {
		case BlockSet:
			parts[i] = fmt.Sprintf("set %s := %s", op.Dst, op.Src)
		case BlockBif:
			parts[i] = fmt.Sprintf("bif %s %s %s => %s", op.Name, refString(op.Fail), argList(op.Args), op.Dst)
		case BlockAlloc:
			if op.GC != nil {
				parts[i] = fmt.Sprintf("alloc %d %d gc_bif %s %s", op.Need, op.Live, op.GC.Name, refString(op.GC.Fail))
			} else {
				parts[i] = fmt.Sprintf("alloc %d %d", op.Need, op.Live)
			}
		case BlockCatch:
			parts[i] = fmt.Sprintf("catch %s", refString(op.Fail))
		case BlockRaw:
			parts[i] = fmt.Sprintf("%s %s", op.Name, argList(op.Args))
		default:
			parts[i] = fmt.Sprintf("<unknown %T>", op)
		}
	}
	return "{" + strings.Join(parts, "; ") + "}"
}
