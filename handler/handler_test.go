package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/code"
	"github.com/kanreisa/jsonrpc2-ws/handler"
	"github.com/kanreisa/jsonrpc2-ws/internal/testutil"
)

// Verify that the Check function accepts the type signatures it is
// advertised to support, and not others.
func TestCheck(t *testing.T) {
	tests := []struct {
		v   any
		bad bool
	}{
		{v: nil, bad: true},                            // nil value
		{v: "not a function", bad: true},               // not a function
		{v: func() {}, bad: true},                      // no parameters
		{v: func(int) error { return nil }, bad: true}, // first parameter is not context

		{v: func(context.Context) {}, bad: true},                                          // no results
		{v: func(context.Context, string, int) error { return nil }, bad: true},           // too many parameters
		{v: func(context.Context) (int, int) { return 0, 0 }, bad: true},                  // second result is not error
		{v: func(context.Context) (int, bool, error) { return 0, false, nil }, bad: true}, // too many results
		{v: func(context.Context, ...int) error { return nil }, bad: true},                // variadic

		{v: func(context.Context) error { return nil }},
		{v: func(context.Context) int { return 0 }},
		{v: func(context.Context) (string, error) { return "", nil }},
		{v: func(context.Context, []int) error { return nil }},
		{v: func(context.Context, map[string]string) (bool, error) { return false, nil }},
		{v: func(context.Context, *struct{ A string }) error { return nil }},
		{v: func(context.Context, *jsonrpc2.Request) error { return nil }},
		{v: func(context.Context, *jsonrpc2.Request) (any, error) { return nil, nil }},
	}
	for _, test := range tests {
		got, err := handler.Check(test.v)
		if !test.bad && err != nil {
			t.Errorf("Check(%T): unexpected error: %v", test.v, err)
		} else if test.bad && err == nil {
			t.Errorf("Check(%T): got %+v, want error", test.v, got)
		}
	}
}

func TestCheckInfo(t *testing.T) {
	fi, err := handler.Check(func(context.Context, []int) (string, error) { return "", nil })
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if want := reflect.TypeOf([]int(nil)); fi.Argument != want {
		t.Errorf("Argument type: got %v, want %v", fi.Argument, want)
	}
	if want := reflect.TypeOf(""); fi.Result != want {
		t.Errorf("Result type: got %v, want %v", fi.Result, want)
	}
	if !fi.ReportsError {
		t.Error("ReportsError is false, want true")
	}

	fi, err = handler.Check(func(context.Context) int { return 0 })
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if fi.Argument != nil {
		t.Errorf("Argument type: got %v, want nil", fi.Argument)
	}
	if want := reflect.TypeOf(0); fi.Result != want {
		t.Errorf("Result type: got %v, want %v", fi.Result, want)
	}
	if fi.ReportsError {
		t.Error("ReportsError is true, want false")
	}
}

func TestNewPanics(t *testing.T) {
	defer func() {
		if p := recover(); p == nil {
			t.Error("New did not panic for an invalid function")
		} else {
			t.Logf("Panic OK: %v", p)
		}
	}()
	handler.New(func(string) {})
}

type pairArg struct {
	First  string `json:"first"`
	Second int    `json:"second"`
}

// Struct arguments accept their parameters as an object or as an array with
// the values in field declaration order.
func TestNewDispatch(t *testing.T) {
	call := handler.New(func(_ context.Context, arg pairArg) (string, error) {
		return fmt.Sprintf("%s:%d", arg.First, arg.Second), nil
	})
	ctx := context.Background()

	t.Run("Object", func(t *testing.T) {
		req := testutil.MustParseRequest(t,
			`{"jsonrpc":"2.0","id":1,"method":"M","params":{"first":"cue","second":7}}`)
		got, err := call(ctx, req)
		if err != nil {
			t.Errorf("Call failed: %v", err)
		} else if got != "cue:7" {
			t.Errorf("Result: got %q, want cue:7", got)
		}
	})
	t.Run("Array", func(t *testing.T) {
		req := testutil.MustParseRequest(t,
			`{"jsonrpc":"2.0","id":2,"method":"M","params":["cue",7]}`)
		got, err := call(ctx, req)
		if err != nil {
			t.Errorf("Call failed: %v", err)
		} else if got != "cue:7" {
			t.Errorf("Result: got %q, want cue:7", got)
		}
	})
	t.Run("ShortArray", func(t *testing.T) {
		req := testutil.MustParseRequest(t,
			`{"jsonrpc":"2.0","id":3,"method":"M","params":["cue"]}`)
		got, err := call(ctx, req)
		if err == nil {
			t.Fatalf("Call: got %v, want error", got)
		}
		var jerr *jsonrpc2.Error
		if !errors.As(err, &jerr) || jerr.Code != code.InvalidParams {
			t.Errorf("Call: error %v, want code %v", err, code.InvalidParams)
		}
	})
	t.Run("BadType", func(t *testing.T) {
		req := testutil.MustParseRequest(t,
			`{"jsonrpc":"2.0","id":4,"method":"M","params":{"first":"cue","second":"x"}}`)
		got, err := call(ctx, req)
		if err == nil {
			t.Fatalf("Call: got %v, want error", got)
		}
		var jerr *jsonrpc2.Error
		if !errors.As(err, &jerr) || jerr.Code != code.InvalidParams {
			t.Errorf("Call: error %v, want code %v", err, code.InvalidParams)
		}
	})
}

func TestRequestArgument(t *testing.T) {
	call := handler.New(func(_ context.Context, req *jsonrpc2.Request) (string, error) {
		return req.Method(), nil
	})
	req := testutil.MustParseRequest(t,
		`{"jsonrpc":"2.0","id":9,"method":"echo.name","params":[1,2,3]}`)
	got, err := call(context.Background(), req)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if got != "echo.name" {
		t.Errorf("Result: got %q, want echo.name", got)
	}
}

// A pointer-typed argument must arrive at the function non-nil even though
// the caller never allocated one.
func TestPointerArgument(t *testing.T) {
	var got pairArg
	call := handler.New(func(_ context.Context, arg *pairArg) error {
		got = *arg
		return nil
	})
	req := testutil.MustParseRequest(t,
		`{"jsonrpc":"2.0","id":3,"method":"M","params":{"first":"deep","second":41}}`)
	if _, err := call(context.Background(), req); err != nil {
		t.Errorf("Call failed: %v", err)
	}
	want := pairArg{First: "deep", Second: 41}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Wrong argument value (-want, +got):\n%s", diff)
	}
}

func TestNoParams(t *testing.T) {
	call := handler.New(func(context.Context) error { return nil })
	ctx := context.Background()

	req := testutil.MustParseRequest(t, `{"jsonrpc":"2.0","id":1,"method":"M"}`)
	if _, err := call(ctx, req); err != nil {
		t.Errorf("Call without params failed: %v", err)
	}

	req = testutil.MustParseRequest(t, `{"jsonrpc":"2.0","id":2,"method":"M","params":[1]}`)
	rsp, err := call(ctx, req)
	if err == nil {
		t.Errorf("Call with params: got %+v, want error", rsp)
	} else if !strings.Contains(err.Error(), "no parameters accepted") {
		t.Errorf("Call with params: error %v, want no parameters accepted", err)
	}
}

func TestSetStrict(t *testing.T) {
	fi, err := handler.Check(func(_ context.Context, arg pairArg) error { return nil })
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	call := fi.SetStrict(true).Wrap()
	req := testutil.MustParseRequest(t,
		`{"jsonrpc":"2.0","id":1,"method":"M","params":{"first":"x","third":true}}`)
	rsp, err := call(context.Background(), req)
	if err == nil {
		t.Errorf("Call: got %+v, want error", rsp)
	} else if !strings.Contains(err.Error(), "unknown field") {
		t.Errorf("Call: error %v, want unknown field", err)
	}
}

func TestMapNames(t *testing.T) {
	stub := handler.New(func(context.Context) error { return nil })
	m := handler.Map{"red": stub, "blue": stub, "green": stub}
	want := []string{"blue", "green", "red"}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("Names (-want, +got):\n%s", diff)
	}
}

func TestServiceMapFlatten(t *testing.T) {
	stub := handler.New(func(context.Context) error { return nil })
	svc := handler.ServiceMap{
		"Math": handler.Map{"Add": stub, "Mul": stub},
		"Text": handler.Map{"Concat": stub},
	}
	want := []string{"Math.Add", "Math.Mul", "Text.Concat"}
	if diff := cmp.Diff(want, svc.Flatten().Names()); diff != "" {
		t.Errorf("Flattened names (-want, +got):\n%s", diff)
	}
}

func TestPositionalBadFunc(t *testing.T) {
	tests := []struct {
		fn    any
		names []string
	}{
		{nil, nil},              // nil function
		{"not a function", nil}, // not a function

		{func(int, int) int { return 0 }, []string{"x", "y"}},                      // no context parameter
		{func(_ context.Context, x, y int) int { return x + y }, []string{"x"}},    // wrong name count
		{func(_ context.Context, x ...int) int { return 0 }, []string{"x"}},        // variadic
		{func(_ context.Context, x int) (int, int) { return x, x }, []string{"x"}}, // bad results
	}
	for _, test := range tests {
		got, err := handler.Positional(test.fn, test.names...)
		if err == nil {
			t.Errorf("Positional(%T, %q): got %+v, want error", test.fn, test.names, got)
		}
	}
}

func TestPositionalDecode(t *testing.T) {
	call := handler.NewPos(func(_ context.Context, x, y int) int { return x + y }, "x", "y")
	ctx := context.Background()

	tests := []struct {
		params string
		want   int
		bad    bool
	}{
		{`{"x":5,"y":3}`, 8, false},
		{`[5,3]`, 8, false},
		{`{"x":5}`, 5, false}, // missing argument defaults to zero
		{`{}`, 0, false},

		{`[5]`, 0, true},           // too few positional values
		{`[5,3,1]`, 0, true},       // too many positional values
		{`{"x":5,"z":3}`, 0, true}, // unknown parameter name
	}
	for _, test := range tests {
		req := testutil.MustParseRequest(t, fmt.Sprintf(
			`{"jsonrpc":"2.0","id":1,"method":"add","params":%s}`, test.params))
		got, err := call(ctx, req)
		if test.bad {
			if err == nil {
				t.Errorf("Params %s: got %v, want error", test.params, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Params %s: unexpected error: %v", test.params, err)
		} else if got != test.want {
			t.Errorf("Params %s: got %v, want %d", test.params, got, test.want)
		}
	}
}

func TestArgs(t *testing.T) {
	type vals struct {
		S string
		N int
		F float64
		B bool
	}
	var tmp vals
	tests := []struct {
		input string
		args  handler.Args
		want  vals
		ok    bool
	}{
		{``, nil, vals{}, false},     // not valid JSON
		{`{}`, nil, vals{}, false},   // not an array
		{`true`, nil, vals{}, false}, // not an array

		{`[]`, nil, vals{}, true},
		{`[]`, handler.Args{}, vals{}, true},
		{`null`, handler.Args{}, vals{}, true},
		{`[16]`, handler.Args{&tmp.N}, vals{N: 16}, true},
		{`["q"]`, handler.Args{&tmp.S}, vals{S: "q"}, true},
		{`[2.5, true]`, handler.Args{&tmp.F, &tmp.B}, vals{F: 2.5, B: true}, true},
		{`["a", 9]`, handler.Args{nil, &tmp.N}, vals{N: 9}, true}, // discarded element

		{`[1, 2, 3]`, handler.Args{&tmp.N}, vals{}, false},   // too many values
		{`[1]`, handler.Args{&tmp.N, &tmp.S}, vals{}, false}, // too few values
		{`["x"]`, handler.Args{&tmp.N}, vals{}, false},       // wrong element type
	}
	for _, test := range tests {
		tmp = vals{}
		err := json.Unmarshal([]byte(test.input), &test.args)
		if test.ok {
			if err != nil {
				t.Errorf("Unmarshal %#q: unexpected error: %v", test.input, err)
			} else if diff := cmp.Diff(test.want, tmp); diff != "" {
				t.Errorf("Unmarshal %#q: (-want, +got)\n%s", test.input, diff)
			}
		} else if err == nil {
			t.Errorf("Unmarshal %#q: got %+v, want error", test.input, tmp)
		}
	}
}

func TestArgsMarshal(t *testing.T) {
	n, s := 25, "snack"
	tests := []struct {
		args handler.Args
		want string
	}{
		{nil, `[]`},
		{handler.Args{}, `[]`},
		{handler.Args{n}, `[25]`},
		{handler.Args{&n, s}, `[25,"snack"]`},
		{handler.Args{n, []string{"a"}}, `[25,["a"]]`},
	}
	for _, test := range tests {
		got, err := json.Marshal(test.args)
		if err != nil {
			t.Errorf("Marshal %+v failed: %v", test.args, err)
		} else if string(got) != test.want {
			t.Errorf("Marshal %+v: got %#q, want %#q", test.args, got, test.want)
		}
	}
}

func TestObj(t *testing.T) {
	var s string
	var n int
	obj := handler.Obj{"name": &s, "count": &n}
	const input = `{"name":"banana","count":5,"extra":true}`
	if err := json.Unmarshal([]byte(input), &obj); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if s != "banana" || n != 5 {
		t.Errorf(`Decoded name=%q count=%d, want "banana" 5`, s, n)
	}

	if err := json.Unmarshal([]byte(`[1,2]`), &obj); err == nil {
		t.Error("Unmarshal from array: want error")
	}

	bad := handler.Obj{"count": &n}
	if err := json.Unmarshal([]byte(`{"count":"x"}`), &bad); err == nil {
		t.Error("Unmarshal with wrong type: want error")
	} else if !strings.Contains(err.Error(), `"count"`) {
		t.Errorf("Error %v does not name the field", err)
	}

	bits, err := json.Marshal(handler.Obj{"a": 1})
	if err != nil {
		t.Errorf("Marshal failed: %v", err)
	} else if got := string(bits); got != `{"a":1}` {
		t.Errorf(`Marshal: got %#q, want {"a":1}`, got)
	}
}

func ExampleArgs_unmarshal() {
	var count int
	var item string

	const input = `[150, "candles"]`
	if err := json.Unmarshal([]byte(input), &handler.Args{&count, &item}); err != nil {
		log.Fatalf("Decoding failed: %v", err)
	}
	fmt.Printf("count=%d, item=%q\n", count, item)
	// Output:
	// count=150, item="candles"
}

func ExampleArgs_marshal() {
	bits, err := json.Marshal(handler.Args{1, "foo", false, nil})
	if err != nil {
		log.Fatalf("Encoding failed: %v", err)
	}
	fmt.Println(string(bits))
	// Output:
	// [1,"foo",false,null]
}

func ExampleNewPos() {
	call := handler.NewPos(func(_ context.Context, x, y int) int {
		return x + y
	}, "x", "y")

	reqs, err := jsonrpc2.ParseRequests([]byte(
		`{"jsonrpc":"2.0", "id":1, "method":"add", "params":[7, 5]}`))
	if err != nil {
		log.Fatalf("Parse failed: %v", err)
	}
	sum, err := call(context.Background(), reqs[0].ToRequest())
	if err != nil {
		log.Fatalf("Call failed: %v", err)
	}
	fmt.Println("sum:", sum)
	// Output:
	// sum: 12
}
