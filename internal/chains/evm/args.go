package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidArgument is returned when a constructor literal does not fit
// its ABI type.
var ErrInvalidArgument = errors.New("invalid constructor argument")

// EncodeConstructorArgs ABI-encodes literal constructor arguments against
// the constructor in abiJSON. Literals are strings: addresses and byte
// strings in 0x hex, integers in decimal or 0x hex, booleans as
// true/false, arrays as "[a,b,c]".
func EncodeConstructorArgs(abiJSON json.RawMessage, args []string) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("parsing ABI: %w", err)
	}

	inputs := parsed.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor takes %d arguments, got %d", ErrInvalidArgument, len(inputs), len(args))
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	values := make([]any, len(inputs))
	for i, in := range inputs {
		v, err := convertLiteral(in.Type, args[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = "#" + strconv.Itoa(i)
			}
			return nil, fmt.Errorf("%w: %s (%s): %v", ErrInvalidArgument, name, in.Type.String(), err)
		}
		values[i] = v
	}

	packed, err := parsed.Pack("", values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return packed, nil
}

func convertLiteral(t abi.Type, lit string) (any, error) {
	lit = strings.TrimSpace(lit)

	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(lit) {
			return nil, fmt.Errorf("%q is not an address", lit)
		}
		return common.HexToAddress(lit), nil

	case abi.BoolTy:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return nil, fmt.Errorf("%q is not a bool", lit)
		}
		return b, nil

	case abi.StringTy:
		return lit, nil

	case abi.BytesTy:
		b, err := hexutil.Decode(lit)
		if err != nil {
			return nil, fmt.Errorf("%q is not 0x-prefixed hex", lit)
		}
		return b, nil

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(lit)
		if err != nil {
			return nil, fmt.Errorf("%q is not 0x-prefixed hex", lit)
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit in bytes%d", len(b), t.Size)
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.IntTy, abi.UintTy:
		return convertInteger(t, lit)

	case abi.SliceTy, abi.ArrayTy:
		elems, err := splitList(lit)
		if err != nil {
			return nil, err
		}
		var out reflect.Value
		if t.T == abi.ArrayTy {
			if len(elems) != t.Size {
				return nil, fmt.Errorf("want %d elements, got %d", t.Size, len(elems))
			}
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), len(elems), len(elems))
		}
		for i, e := range elems {
			v, err := convertLiteral(*t.Elem, e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(v))
		}
		return out.Interface(), nil

	default:
		return nil, fmt.Errorf("type %s is not supported as a literal", t.String())
	}
}

func convertInteger(t abi.Type, lit string) (any, error) {
	n, ok := parseInteger(lit)
	if !ok {
		return nil, fmt.Errorf("%q is not an integer", lit)
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("%s is negative", lit)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", lit, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		lower := new(big.Int).Neg(limit)
		if n.Cmp(lower) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%s overflows int%d", lit, t.Size)
		}
	}

	// go-ethereum packs 8..64 bit integers from native Go types only
	goType := t.GetType()
	switch goType.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
	default:
		return n, nil
	}
}

// splitList splits "[a,b,[c,d]]" into its top-level elements
func splitList(lit string) ([]string, error) {
	if !strings.HasPrefix(lit, "[") || !strings.HasSuffix(lit, "]") {
		return nil, fmt.Errorf("%q is not a [..] list", lit)
	}
	body := strings.TrimSpace(lit[1 : len(lit)-1])
	if body == "" {
		return nil, nil
	}

	var (
		elems []string
		depth int
		start int
	)
	for i, r := range body {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in %q", lit)
			}
		case ',':
			if depth == 0 {
				elems = append(elems, strings.TrimSpace(body[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets in %q", lit)
	}
	elems = append(elems, strings.TrimSpace(body[start:]))
	return elems, nil
}

// parseInteger reads 0x-prefixed hex or plain decimal. A leading zero on a
// decimal literal does not switch it to octal.
func parseInteger(lit string) (*big.Int, bool) {
	s := strings.ReplaceAll(lit, "_", "")
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, false
	}

	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, false
	}
	if neg {
		n.Neg(n)
	}
	return n, true
}
