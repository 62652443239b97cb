package parcel

import (
	"fmt"

	"github.com/openvela/mediad/internal/errors"
)

// AppendPrintf appends a sequence of primitives described by a tiny
// format string: one verb per argument, interpreted left to right.
//
//	%i  int32    %l  int64   %u  uint32
//	%f  float32  %d  float64 %s  string
//
// Any other rune in format is rejected; argument count and type must
// match the verbs exactly.
func (p *Parcel) AppendPrintf(format string, args ...any) error {
	verbs, err := parseVerbs(format)
	if err != nil {
		return err
	}
	if len(verbs) != len(args) {
		return errors.NewProtocolError("parcel.appendPrintf",
			fmt.Errorf("format has %d verbs, got %d args", len(verbs), len(args)))
	}
	for i, v := range verbs {
		if err := appendVerb(p, v, args[i]); err != nil {
			return err
		}
	}
	return nil
}

// ReadScanf reads a sequence of primitives described by the same format
// mini-language AppendPrintf uses, writing each into the corresponding
// pointer argument.
func (p *Parcel) ReadScanf(format string, args ...any) error {
	verbs, err := parseVerbs(format)
	if err != nil {
		return err
	}
	if len(verbs) != len(args) {
		return errors.NewProtocolError("parcel.readScanf",
			fmt.Errorf("format has %d verbs, got %d args", len(verbs), len(args)))
	}
	for i, v := range verbs {
		if err := readVerb(p, v, args[i]); err != nil {
			return err
		}
	}
	return nil
}

func parseVerbs(format string) ([]byte, error) {
	var verbs []byte
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			return nil, errors.NewProtocolError("parcel.format", fmt.Errorf("unexpected literal byte %q at %d", c, i))
		}
		i++
		if i >= len(format) {
			return nil, errors.NewProtocolError("parcel.format", fmt.Errorf("dangling %% at end of format"))
		}
		switch format[i] {
		case 'i', 'l', 'u', 'f', 'd', 's':
			verbs = append(verbs, format[i])
		default:
			return nil, errors.NewProtocolError("parcel.format", fmt.Errorf("unknown verb %%%c", format[i]))
		}
	}
	return verbs, nil
}

func appendVerb(p *Parcel, verb byte, arg any) error {
	switch verb {
	case 'i':
		v, ok := arg.(int32)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendInt32(v)
	case 'l':
		v, ok := arg.(int64)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendInt64(v)
	case 'u':
		v, ok := arg.(uint32)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendUint32(v)
	case 'f':
		v, ok := arg.(float32)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendFloat32(v)
	case 'd':
		v, ok := arg.(float64)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendFloat64(v)
	case 's':
		v, ok := arg.(string)
		if !ok {
			return typeErr(verb, arg)
		}
		p.AppendString(v)
	}
	return nil
}

func readVerb(p *Parcel, verb byte, arg any) error {
	switch verb {
	case 'i':
		ptr, ok := arg.(*int32)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadInt32()
		if err != nil {
			return err
		}
		*ptr = v
	case 'l':
		ptr, ok := arg.(*int64)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadInt64()
		if err != nil {
			return err
		}
		*ptr = v
	case 'u':
		ptr, ok := arg.(*uint32)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadUint32()
		if err != nil {
			return err
		}
		*ptr = v
	case 'f':
		ptr, ok := arg.(*float32)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadFloat32()
		if err != nil {
			return err
		}
		*ptr = v
	case 'd':
		ptr, ok := arg.(*float64)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadFloat64()
		if err != nil {
			return err
		}
		*ptr = v
	case 's':
		ptr, ok := arg.(*string)
		if !ok {
			return typeErr(verb, arg)
		}
		v, err := p.ReadString()
		if err != nil {
			return err
		}
		*ptr = v
	}
	return nil
}

func typeErr(verb byte, arg any) error {
	return errors.NewProtocolError("parcel.format", fmt.Errorf("verb %%%c does not match argument type %T", verb, arg))
}
