package server

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/rbvm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One server and one set of Connect clients are shared by every test via
// TestMain. Tests that need their own stores build them locally.
// ---------------------------------------------------------------------------

var (
	testServer *RbvmServer
	testHTTP   *httptest.Server

	compileClient     *connect.Client[CompileRequest, CompileResponse]
	runClient         *connect.Client[RunRequest, RunResponse]
	startClient       *connect.Client[StartRequest, StartResponse]
	communicateClient *connect.Client[CommunicateRequest, CommunicateResponse]
	stopClient        *connect.Client[StopRequest, StopResponse]
)

// TestMain starts one server over httptest for all server tests.
func TestMain(m *testing.M) {
	var err error
	testServer, err = New(
		WithRunTimeout(3*time.Second),
		WithSessionTTL(time.Minute),
		WithVMOptions(vm.WithMaxSteps(2_000_000)))
	if err != nil {
		panic(err)
	}
	testHTTP = httptest.NewServer(testServer.Handler())

	codec := connect.WithCodec(jsonCodec{})
	client := testHTTP.Client()
	compileClient = connect.NewClient[CompileRequest, CompileResponse](client, testHTTP.URL+CompileProcedure, codec)
	runClient = connect.NewClient[RunRequest, RunResponse](client, testHTTP.URL+RunProcedure, codec)
	startClient = connect.NewClient[StartRequest, StartResponse](client, testHTTP.URL+StartProcedure, codec)
	communicateClient = connect.NewClient[CommunicateRequest, CommunicateResponse](client, testHTTP.URL+CommunicateProcedure, codec)
	stopClient = connect.NewClient[StopRequest, StopResponse](client, testHTTP.URL+StopProcedure, codec)

	code := m.Run()

	testHTTP.Close()
	testServer.Stop()
	os.Exit(code)
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

const fibSource = `package main

func fib(n int) int {
	if n < 2 {
		return 1
	}
	return fib(n-1) + fib(n-2)
}

func main() {
	println(fib(10))
}
`

const echoSource = `package main

import "rbvm/libc"

func main() {
	libc.Puts("ready")
	for {
		c := libc.Getchar()
		if c < 0 {
			return
		}
		libc.Putchar(c)
	}
}
`

// compileSource compiles src through the server and returns its hex bytecode.
func compileSource(t *testing.T, src string) string {
	t.Helper()
	resp, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{Source: src}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if len(resp.Msg.Diagnostics) > 0 {
		t.Fatalf("Compile diagnostics: %v", resp.Msg.Diagnostics[0].Message)
	}
	return resp.Msg.Bytecode
}

// ---------------------------------------------------------------------------
// Request builder helpers
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
