package jsonrpc2_test

import (
	"context"
	"fmt"
	"log"
	"net/http"

	jsonrpc2 "github.com/kanreisa/jsonrpc2-ws"
	"github.com/kanreisa/jsonrpc2-ws/handler"
)

type Msg struct {
	Text string `json:"msg"`
}

func ExampleNewServer() {
	// Construct a server with a single method "Hello" and open it on an
	// OS-assigned port.
	srv := jsonrpc2.NewServer(&jsonrpc2.ServerOptions{Addr: "127.0.0.1:0"})
	srv.Methods().Set("Hello", handler.New(func(context.Context) (string, error) {
		return "Hello, world!", nil
	}))
	if err := srv.Open(); err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer srv.Close()

	fmt.Println(srv.Methods().Names())
	// Output:
	// [Hello]
}

func ExampleClient_Call() {
	srv := jsonrpc2.NewServer(&jsonrpc2.ServerOptions{Addr: "127.0.0.1:0"})
	srv.Methods().Set("Hello", handler.New(func(context.Context) (string, error) {
		return "Hello, world!", nil
	}))
	if err := srv.Open(); err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer srv.Close()

	cli := jsonrpc2.NewClient("ws://"+srv.Addr().String(), nil)
	if err := cli.Connect(context.Background()); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	defer cli.Disconnect()

	var msg string
	if err := cli.CallResult(context.Background(), "Hello", nil, &msg); err != nil {
		log.Fatalf("Call: %v", err)
	}
	fmt.Println(msg)
	// Output:
	// Hello, world!
}

func ExampleClient_Batch() {
	srv := jsonrpc2.NewServer(&jsonrpc2.ServerOptions{Addr: "127.0.0.1:0"})
	srv.Methods().SetMap(handler.Map{
		"Hello": handler.New(func(context.Context) (string, error) {
			return "Hello, world!", nil
		}),
		"Log": handler.New(func(_ context.Context, msg Msg) (bool, error) {
			fmt.Println("Log:", msg.Text)
			return true, nil
		}),
	})
	if err := srv.Open(); err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer srv.Close()

	cli := jsonrpc2.NewClient("ws://"+srv.Addr().String(), nil)
	if err := cli.Connect(context.Background()); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	defer cli.Disconnect()

	// The batch carries one call and one notification, so exactly one
	// response comes back.
	rsps, err := cli.Batch(context.Background(), []jsonrpc2.Spec{
		{Method: "Hello"},
		{Method: "Log", Params: Msg{"Sing it!"}, Notify: true},
	})
	if err != nil {
		log.Fatalf("Batch: %v", err)
	}
	fmt.Printf("len(rsps)=%d\n", len(rsps))

	var msg string
	if err := rsps[0].UnmarshalResult(&msg); err != nil {
		log.Fatalf("Invalid result: %v", err)
	}
	fmt.Printf("rsps[0]=%s\n", msg)
	// Output:
	// Log: Sing it!
	// len(rsps)=1
	// rsps[0]=Hello, world!
}

func ExampleSession_Notify() {
	srv := jsonrpc2.NewServer(&jsonrpc2.ServerOptions{Addr: "127.0.0.1:0"})
	if err := srv.Open(); err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer srv.Close()

	// Greet each client as soon as it connects.
	srv.OnConnection(func(sess *jsonrpc2.Session, _ *http.Request) {
		sess.Notify("greet", Msg{"Welcome!"})
	})

	done := make(chan struct{})
	cli := jsonrpc2.NewClient("ws://"+srv.Addr().String(), nil)
	cli.Methods().Set("greet", handler.New(func(_ context.Context, msg Msg) error {
		fmt.Println("greet:", msg.Text)
		close(done)
		return nil
	}))
	if err := cli.Connect(context.Background()); err != nil {
		log.Fatalf("Connect: %v", err)
	}
	defer cli.Disconnect()

	<-done
	// Output:
	// greet: Welcome!
}
