package kasm

import "fmt"

// termDecoder walks a decoded CBOR term list, remembering the first
// error so instruction decoders can read fields in sequence and check
// once at the end.
type termDecoder struct {
	items []any
	pos   int
	err   error
}

func newTermDecoder(t any) *termDecoder {
	items, ok := t.([]any)
	if !ok {
		return &termDecoder{err: fmt.Errorf("instruction term is %T, not a list", t)}
	}
	return &termDecoder{items: items}
}

func (d *termDecoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *termDecoder) next() any {
	if d.err != nil {
		return nil
	}
	if d.pos >= len(d.items) {
		d.fail("instruction term too short: %d items", len(d.items))
		return nil
	}
	v := d.items[d.pos]
	d.pos++
	return v
}

func (d *termDecoder) remaining() int {
	return len(d.items) - d.pos
}

func (d *termDecoder) done() error {
	if d.err == nil && d.pos != len(d.items) {
		d.fail("instruction term has %d trailing items", len(d.items)-d.pos)
	}
	return d.err
}

func (d *termDecoder) str() (string, error) {
	s, ok := d.next().(string)
	if !ok && d.err == nil {
		d.fail("expected string at item %d", d.pos-1)
	}
	return s, d.err
}

func (d *termDecoder) mustStr() string {
	s, _ := d.str()
	return s
}

func (d *termDecoder) int() int {
	v, ok := toInt(d.next())
	if !ok && d.err == nil {
		d.fail("expected integer at item %d", d.pos-1)
	}
	return v
}

func (d *termDecoder) list() []any {
	l, ok := d.next().([]any)
	if !ok && d.err == nil {
		d.fail("expected list at item %d", d.pos-1)
	}
	return l
}

func (d *termDecoder) mfa() MFA {
	return MFA{Mod: d.mustStr(), Name: d.mustStr(), Arity: d.int()}
}

func (d *termDecoder) arg() Arg {
	a, err := termToArg(d.next())
	if err != nil {
		d.fail("%v", err)
	}
	return a
}

func (d *termDecoder) args() []Arg {
	raw := d.list()
	if len(raw) == 0 {
		return nil
	}
	out := make([]Arg, len(raw))
	for k, t := range raw {
		a, err := termToArg(t)
		if err != nil {
			d.fail("argument %d: %v", k, err)
			return nil
		}
		out[k] = a
	}
	return out
}

func (d *termDecoder) cases() []Case {
	raw := d.list()
	if len(raw) == 0 {
		return nil
	}
	if len(raw)%2 != 0 {
		d.fail("select case list has odd length %d", len(raw))
		return nil
	}
	out := make([]Case, 0, len(raw)/2)
	for k := 0; k < len(raw); k += 2 {
		v, err := termToArg(raw[k])
		if err != nil {
			d.fail("case value %d: %v", k/2, err)
			return nil
		}
		target, ok := toInt(raw[k+1])
		if !ok {
			d.fail("case target %d is not an integer", k/2)
			return nil
		}
		out = append(out, Case{Value: v, Target: Ref(target)})
	}
	return out
}

func termToArg(t any) (Arg, error) {
	if t == nil {
		return nil, nil
	}
	items, ok := t.([]any)
	if !ok || len(items) != 2 {
		return nil, fmt.Errorf("operand term is %T, not a tagged pair", t)
	}
	tag, ok := items[0].(string)
	if !ok {
		return nil, fmt.Errorf("operand tag is %T, not a string", items[0])
	}
	switch tag {
	case "x":
		n, ok := toInt(items[1])
		if !ok {
			return nil, fmt.Errorf("x register number is %T", items[1])
		}
		return XReg{n}, nil
	case "y":
		n, ok := toInt(items[1])
		if !ok {
			return nil, fmt.Errorf("y register number is %T", items[1])
		}
		return YReg{n}, nil
	case "atom":
		s, ok := items[1].(string)
		if !ok {
			return nil, fmt.Errorf("atom name is %T", items[1])
		}
		return Atom{s}, nil
	case "int":
		n, ok := toInt64(items[1])
		if !ok {
			return nil, fmt.Errorf("integer value is %T", items[1])
		}
		return Int{n}, nil
	case "lit":
		s, ok := items[1].(string)
		if !ok {
			return nil, fmt.Errorf("literal text is %T", items[1])
		}
		return Lit{s}, nil
	default:
		return nil, fmt.Errorf("unknown operand tag %q", tag)
	}
}

func toInt(v any) (int, bool) {
	n, ok := toInt64(v)
	return int(n), ok
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}
