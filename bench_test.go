package jsonrpc2_test

import (
	"context"
	"testing"

	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/handler"
)

func BenchmarkRoundTrip(b *testing.B) {
	// Benchmark the round-trip call cycle for a method that does no useful
	// work, as a proxy for client and connection maintenance overhead.
	srv, addr := startServer(b, handler.Map{
		"void": handler.New(func(context.Context, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}),
	}, &jsonrpc2.ServerOptions{Concurrency: 1})
	defer srv.Close()
	cli := dial(b, addr, nil)
	defer cli.Disconnect()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Call(ctx, "void", nil); err != nil {
			b.Fatalf("Call void failed: %v", err)
		}
	}
}

func BenchmarkNotify(b *testing.B) {
	// Benchmark fire-and-forget notification throughput on an open
	// connection.
	srv, addr := startServer(b, handler.Map{
		"void": handler.New(func(context.Context, *jsonrpc2.Request) (any, error) {
			return nil, nil
		}),
	}, &jsonrpc2.ServerOptions{Concurrency: 1})
	defer srv.Close()
	cli := dial(b, addr, nil)
	defer cli.Disconnect()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := cli.Notify(ctx, "void", nil); err != nil {
			b.Fatalf("Notify void failed: %v", err)
		}
	}
}
