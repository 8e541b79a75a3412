package kasm

// ExitOracle answers whether calling the external function m:f/a is
// guaranteed to raise. The optimizer only consults it for call_ext
// shapes; the authoritative oracle lives in a later pipeline stage and
// is passed in, with BuiltinExits as the fallback.
type ExitOracle interface {
	Raises(mod, name string, arity int) bool
}

// OracleFunc adapts a function to the ExitOracle interface.
type OracleFunc func(mod, name string, arity int) bool

// Raises implements ExitOracle.
func (f OracleFunc) Raises(mod, name string, arity int) bool {
	return f(mod, name, arity)
}

// BuiltinExits knows the runtime's no-return built-ins.
var BuiltinExits ExitOracle = OracleFunc(func(mod, name string, arity int) bool {
	if mod != "runtime" {
		return false
	}
	switch {
	case name == "exit" && arity == 1:
		return true
	case name == "throw" && arity == 1:
		return true
	case name == "error" && (arity == 1 || arity == 2):
		return true
	case name == "nif_error" && (arity == 1 || arity == 2):
		return true
	case name == "raise" && arity == 3:
		return true
	}
	return false
})

func oracleOrBuiltin(o ExitOracle) ExitOracle {
	if o == nil {
		return BuiltinExits
	}
	return o
}

// Exits reports whether i always raises or aborts. Exit instructions are
// a strict subset of terminating instructions.
func Exits(i Instr, oracle ExitOracle) bool {
	switch i := i.(type) {
	case CaseEnd, IfEnd, TryCaseEnd, Badmatch:
		return true
	case CallExt:
		return oracleOrBuiltin(oracle).Raises(i.Func.Mod, i.Func.Name, i.Func.Arity)
	}
	return false
}

// Terminates reports whether control never falls through i to the
// textually next instruction.
func Terminates(i Instr, oracle ExitOracle) bool {
	switch i.(type) {
	case FuncInfo:
		// Falls through only into the argument-shape error handler,
		// which normal control flow never reaches.
		return true
	case Jump, Return:
		return true
	case SelectVal, SelectTupleArity:
		return true
	case CallLast, CallOnly, CallExtLast, CallExtOnly, ApplyLast:
		return true
	case Wait, LoopRecEnd:
		return true
	}
	return Exits(i, oracle)
}
