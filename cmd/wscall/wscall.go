// Program wscall issues JSON-RPC calls to a WebSocket server.
//
// Usage:
//    wscall [options] <url> {<method> <params>}...
//
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
)

var (
	dialTimeout = flag.Duration("dial", 5*time.Second, "Timeout on dialing the server (0 for no timeout)")
	callTimeout = flag.Duration("timeout", 0, "Timeout on each call (0 for the default)")
	doNotify    = flag.Bool("notify", false, "Send notifications instead of calls")
	doBatch     = flag.Bool("batch", false, "Issue calls as a batch rather than sequentially")
	doTiming    = flag.Bool("T", false, "Print call timing stats")
	withLogging = flag.Bool("v", false, "Enable verbose logging")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: %s [options] <url> {<method> <params>}...

Connect to the WebSocket server at <url> (for example ws://localhost:8080/ws)
and transmit the specified JSON-RPC method calls. The resulting response
values are printed to stdout, one per line.

Options:
`, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	// There must be at least one request, and more are permitted. Each method
	// must have an argument, though it may be empty.
	if flag.NArg() < 3 || flag.NArg()%2 == 0 {
		log.Fatal("Arguments are <url> {<method> <params>}...")
	}

	opts := &jsonrpc2.ClientOptions{DisableReconnection: true}
	if *callTimeout > 0 {
		opts.MethodCallTimeout = *callTimeout
	}
	if *withLogging {
		opts.LogWriter = os.Stderr
	}

	start := time.Now()
	cli := jsonrpc2.NewClient(flag.Arg(0), opts)
	dctx := context.Background()
	if *dialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, *dialTimeout)
		defer cancel()
	}
	if err := cli.Connect(dctx); err != nil {
		log.Fatalf("Dial %q: %v", flag.Arg(0), err)
	}
	defer cli.Disconnect()
	tdial := time.Now()

	rsps, err := issueCalls(context.Background(), cli, flag.Args()[1:])
	if err != nil {
		log.Fatalf("Call failed: %v", err)
	}
	tcall := time.Now()
	if ok := printResults(rsps); !ok {
		os.Exit(1)
	}
	tprint := time.Now()
	if *doTiming {
		fmt.Fprintf(os.Stderr, "%v elapsed: %v dial, %v call, %v print\n",
			tprint.Sub(start), tdial.Sub(start), tcall.Sub(tdial), tprint.Sub(tcall))
	}
}

func issueCalls(ctx context.Context, cli *jsonrpc2.Client, args []string) ([]*jsonrpc2.Response, error) {
	specs := newSpecs(args)
	if *doBatch {
		return cli.Batch(ctx, specs)
	}
	return issueSequential(ctx, cli, specs)
}

func issueSequential(ctx context.Context, cli *jsonrpc2.Client, specs []jsonrpc2.Spec) ([]*jsonrpc2.Response, error) {
	var rsps []*jsonrpc2.Response
	for _, spec := range specs {
		if spec.Notify {
			if err := cli.Notify(ctx, spec.Method, spec.Params); err != nil {
				return nil, err
			}
		} else if rsp, err := cli.Call(ctx, spec.Method, spec.Params); err != nil {
			return nil, err
		} else {
			rsps = append(rsps, rsp)
		}
	}
	return rsps, nil
}

func newSpecs(args []string) []jsonrpc2.Spec {
	specs := make([]jsonrpc2.Spec, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		specs = append(specs, jsonrpc2.Spec{
			Method: args[i],
			Params: param(args[i+1]),
			Notify: *doNotify,
		})
	}
	return specs
}

func param(s string) any {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func printResults(rsps []*jsonrpc2.Response) bool {
	ok := true
	for i, rsp := range rsps {
		if rerr := rsp.Error(); rerr != nil {
			log.Printf("Error (%d): %v", i+1, rerr)
			ok = false
			continue
		}
		var result json.RawMessage
		if err := rsp.UnmarshalResult(&result); err != nil {
			log.Printf("Decoding (%d): %v", i+1, err)
			ok = false
			continue
		}
		fmt.Println(string(result))
	}
	return ok
}
