// Package handler provides support for adapting ordinary typed functions to
// the jsonrpc2.Handler signature, and helpers for assembling method maps.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"

	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/code"
)

// Func is a convenience alias for jsonrpc2.Handler.
type Func = jsonrpc2.Handler

// A Map is a set of handlers keyed by method name, ready to be registered on
// a method registry:
//
//	srv.Methods().SetMap(handler.Map{
//		"math.add": handler.New(Add),
//		"math.mul": handler.New(Mul),
//	})
type Map map[string]jsonrpc2.Handler

// Names returns the method names in m, sorted.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// A ServiceMap groups handler maps under service names, so that multiple
// services can share one registry under distinct prefixes.
type ServiceMap map[string]Map

// Flatten merges the services of m into a single Map, with each method
// registered as "Service.Method".
func (m ServiceMap) Flatten() Map {
	out := make(Map)
	for svc, methods := range m {
		for name, fn := range methods {
			out[svc+"."+name] = fn
		}
	}
	return out
}

// New adapts a function to a jsonrpc2.Handler. The concrete value of fn must
// be a function accepted by Check. The resulting handler decodes the request
// parameters for fn, calls it, and encodes its result.
//
// New is intended for use during program initialization, and panics if the
// type of fn does not have one of the accepted forms. Programs that need to
// check for possible errors should call Check directly, and use the Wrap
// method of the resulting FuncInfo to obtain the wrapper.
func New(fn any) jsonrpc2.Handler {
	fi, err := Check(fn)
	if err != nil {
		panic(err)
	}
	return fi.Wrap()
}

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem() // type context.Context
	errType = reflect.TypeOf((*error)(nil)).Elem()           // type error
	reqType = reflect.TypeOf((*jsonrpc2.Request)(nil))       // type *jsonrpc2.Request

	strictType = reflect.TypeOf((*interface{ DisallowUnknownFields() })(nil)).Elem()

	errNoParameters = &jsonrpc2.Error{Code: code.InvalidParams, Message: "no parameters accepted"}
)

// FuncInfo captures type signature information from a valid handler function.
type FuncInfo struct {
	Type         reflect.Type // the complete function type
	Argument     reflect.Type // the non-context argument type, or nil
	Result       reflect.Type // the non-error result type, or nil
	ReportsError bool         // true if the function reports an error

	strictFields bool     // enforce strict field checking
	posNames     []string // positional field names

	fn any // the original function value
}

// SetStrict sets the flag on fi that determines whether the wrapper it
// generates will enforce strict field checking. If set true, the wrapper
// reports an error when unmarshaling an object into a struct if the object
// contains fields unknown by the struct. Strict field checking has no effect
// for non-struct arguments.
func (fi *FuncInfo) SetStrict(strict bool) *FuncInfo { fi.strictFields = strict; return fi }

// Wrap adapts the function represented by fi to a jsonrpc2.Handler. The
// wrapped function can recover the *jsonrpc2.Request value from its context
// argument using the jsonrpc2.InboundRequest helper.
//
// Wrap panics if fi == nil or if it does not represent a valid function
// type. A FuncInfo returned by a successful call to Check is always valid.
func (fi *FuncInfo) Wrap() jsonrpc2.Handler {
	if fi == nil || fi.fn == nil {
		panic("handler: invalid FuncInfo value")
	}

	// The wrapper runs on every dispatch, so hoist as much of the reflection
	// as possible out here: the helpers below are specialized to the shape of
	// fn once, and the returned closure only executes them.

	// If fn already has the handler signature, no adaptation is needed.
	if f, ok := fi.fn.(jsonrpc2.Handler); ok {
		return f
	}

	wrapArg := fi.argWrapper()

	// newInput unpacks the request parameters to the argument list of fn.
	var newInput func(ctx reflect.Value, req *jsonrpc2.Request) ([]reflect.Value, error)

	arg := fi.Argument
	if arg == nil {
		// The function takes no request parameters; reject any that arrive.
		newInput = func(ctx reflect.Value, req *jsonrpc2.Request) ([]reflect.Value, error) {
			if req.HasParams() {
				return nil, errNoParameters
			}
			return []reflect.Value{ctx}, nil
		}

	} else if arg == reqType {
		// The function wants the underlying *jsonrpc2.Request value.
		newInput = func(ctx reflect.Value, req *jsonrpc2.Request) ([]reflect.Value, error) {
			return []reflect.Value{ctx, reflect.ValueOf(req)}, nil
		}

	} else if arg.Kind() == reflect.Ptr {
		// The function wants a pointer to its argument value.
		newInput = func(ctx reflect.Value, req *jsonrpc2.Request) ([]reflect.Value, error) {
			in := reflect.New(arg.Elem())
			if err := req.UnmarshalParams(wrapArg(in)); err != nil {
				return nil, paramError(err)
			}
			return []reflect.Value{ctx, in}, nil
		}
	} else {
		// The function wants a bare argument value. Unmarshaling still needs
		// a pointer, which is indirected away for the call.
		newInput = func(ctx reflect.Value, req *jsonrpc2.Request) ([]reflect.Value, error) {
			in := reflect.New(arg)
			if err := req.UnmarshalParams(wrapArg(in)); err != nil {
				return nil, paramError(err)
			}
			return []reflect.Value{ctx, in.Elem()}, nil
		}
	}

	// decodeOut converts the return values of fn to a result and error.
	var decodeOut func([]reflect.Value) (any, error)

	if fi.Result == nil {
		// The function returns only an error; the result is always nil.
		decodeOut = func(vals []reflect.Value) (any, error) {
			oerr := vals[0].Interface()
			if oerr != nil {
				return nil, oerr.(error)
			}
			return nil, nil
		}
	} else if !fi.ReportsError {
		// The function returns only a non-error value.
		decodeOut = func(vals []reflect.Value) (any, error) {
			return vals[0].Interface(), nil
		}
	} else {
		// The function returns both a value and an error.
		decodeOut = func(vals []reflect.Value) (any, error) {
			if oerr := vals[1].Interface(); oerr != nil {
				return nil, oerr.(error)
			}
			return vals[0].Interface(), nil
		}
	}

	call := reflect.ValueOf(fi.fn).Call
	return func(ctx context.Context, req *jsonrpc2.Request) (any, error) {
		args, ierr := newInput(reflect.ValueOf(ctx), req)
		if ierr != nil {
			return nil, ierr
		}
		return decodeOut(call(args))
	}
}

// Check checks whether fn can serve as a jsonrpc2.Handler. The concrete
// value of fn must be a function with one of the following type signature
// schemes, for JSON-marshalable types X and Y:
//
//	func(context.Context) error
//	func(context.Context) Y
//	func(context.Context) (Y, error)
//	func(context.Context, X) error
//	func(context.Context, X) Y
//	func(context.Context, X) (Y, error)
//	func(context.Context, *jsonrpc2.Request) error
//	func(context.Context, *jsonrpc2.Request) Y
//	func(context.Context, *jsonrpc2.Request) (Y, error)
//	func(context.Context, *jsonrpc2.Request) (any, error)
//
// If fn does not have one of these forms, Check reports an error.
//
// If the type of X is a struct or a pointer to a struct, the generated
// wrapper accepts JSON parameters as either an object or an array. Array
// parameters are mapped to the fields of X in order of field declaration,
// skipping unexported fields and fields tagged `json:"-"`; untagged
// anonymous fields are also skipped.
//
// For other argument types, the accepted format is whatever json.Unmarshal
// can decode into the value. Note, however, that the protocol restricts
// encoded parameter values to arrays and objects, so a scalar argument type
// will always fail to decode; define a struct type for your parameters, or
// use a 1-element array:
//
//	func(ctx context.Context, sp [1]string) error {
//	   s := sp[0] // pull the actual argument out of the array
//	   // ...
//	}
//
// For more complex positional signatures, see also Positional.
func Check(fn any) (*FuncInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}

	info := &FuncInfo{Type: reflect.TypeOf(fn), fn: fn}
	if info.Type.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	}

	// Check argument values.
	if np := info.Type.NumIn(); np == 0 || np > 2 {
		return nil, errors.New("wrong number of parameters")
	} else if info.Type.In(0) != ctxType {
		return nil, errors.New("first parameter is not context.Context")
	} else if info.Type.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	} else if np == 2 {
		info.Argument = info.Type.In(1)
	}

	// Check for struct field names on the argument type.
	if ok, names := structFieldNames(info.Argument); ok {
		info.posNames = names
	}

	// Check return values.
	no := info.Type.NumOut()
	if no < 1 || no > 2 {
		return nil, errors.New("wrong number of results")
	} else if no == 2 && info.Type.Out(1) != errType {
		return nil, errors.New("result is not of type error")
	}
	info.ReportsError = info.Type.Out(no-1) == errType
	if no == 2 || !info.ReportsError {
		info.Result = info.Type.Out(0)
	}
	return info, nil
}

// An arrayStub wraps an argument value so that a JSON array may stand in for
// its object form, with array elements assigned to fields positionally.
type arrayStub struct {
	v        any
	posNames []string
}

// translate rewrites data for unmarshaling into s.v. If s.posNames is set
// and data encodes an array, the array is rewritten to an equivalent object
// keyed by the positional names. Otherwise data is returned as-is.
func (s *arrayStub) translate(data []byte) ([]byte, error) {
	if firstByte(data) != '[' {
		return data, nil // not an array
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, err
	} else if len(arr) != len(s.posNames) {
		return nil, jsonrpc2.Errorf(code.InvalidParams, "got %d parameters, want %d",
			len(arr), len(s.posNames))
	}

	obj := make(map[string]json.RawMessage, len(s.posNames))
	for i, name := range s.posNames {
		obj[name] = arr[i]
	}
	return json.Marshal(obj)
}

func (s *arrayStub) UnmarshalJSON(data []byte) error {
	actual, err := s.translate(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(actual, s.v)
}

// A strictStub wraps an argument value to enforce strict field checking when
// unmarshaling from JSON.
type strictStub struct{ v any }

func (s *strictStub) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s.v)
}

func (fi *FuncInfo) argWrapper() func(reflect.Value) any {
	strict := fi.strictFields && fi.Argument != nil && !fi.Argument.Implements(strictType)
	names := fi.posNames // capture so the wrapper does not pin fi
	array := len(names) != 0
	switch {
	case strict && array:
		return func(v reflect.Value) any {
			return &arrayStub{v: &strictStub{v: v.Interface()}, posNames: names}
		}
	case strict:
		return func(v reflect.Value) any {
			return &strictStub{v: v.Interface()}
		}
	case array:
		return func(v reflect.Value) any {
			return &arrayStub{v: v.Interface(), posNames: names}
		}
	default:
		return reflect.Value.Interface
	}
}

// paramError maps a parameter decoding failure to an invalid-params error,
// preserving an existing wire error if err already carries one.
func paramError(err error) error {
	var jerr *jsonrpc2.Error
	if errors.As(err, &jerr) {
		return jerr
	}
	return jsonrpc2.Errorf(code.InvalidParams, "invalid parameters: %v", err)
}

// firstByte returns the first non-whitespace byte of data, or 0.
func firstByte(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}
