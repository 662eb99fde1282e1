package server

import (
	"errors"
	"strings"
	"testing"

	"connectrpc.com/connect"
)

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompileAndRunFib(t *testing.T) {
	resp, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{Source: fibSource}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if len(resp.Msg.Diagnostics) != 0 {
		t.Fatalf("Compile diagnostics = %v", resp.Msg.Diagnostics[0].Message)
	}
	if !strings.HasPrefix(resp.Msg.Bytecode, "0x") {
		t.Errorf("Bytecode = %.20q, want a hex sentence", resp.Msg.Bytecode)
	}
	if !strings.Contains(resp.Msg.Disassembly, "\nfib:\n") {
		t.Errorf("Disassembly does not label fib:\n%s", resp.Msg.Disassembly)
	}

	run, err := runClient.CallUnary(bg(), connectReq(&RunRequest{Bytecode: resp.Msg.Bytecode}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if run.Msg.Stdout != "89\n" {
		t.Errorf("Stdout = %q, want %q", run.Msg.Stdout, "89\n")
	}
	if run.Msg.ExitCode != 0 || run.Msg.Error != "" {
		t.Errorf("Run = exit %d, error %q; want a clean exit", run.Msg.ExitCode, run.Msg.Error)
	}
}

func TestCompileCacheHit(t *testing.T) {
	src := "package main\n\nfunc main() {\n\tprintln(7 * 6)\n}\n"

	first, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{Source: src}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if first.Msg.Cached {
		t.Error("first compile of a new source should not be cached")
	}

	second, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{Source: src}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if !second.Msg.Cached {
		t.Error("second compile of the same source should hit the cache")
	}
	if second.Msg.Bytecode != first.Msg.Bytecode {
		t.Error("cached bytecode differs from the original")
	}
	if second.Msg.Disassembly != first.Msg.Disassembly {
		t.Error("cached disassembly differs from the original")
	}
}

func TestCompileDiagnostics(t *testing.T) {
	src := "package main\n\nfunc main() {\n\tx := \"a\" + 1\n\tprintln(x)\n}\n"
	resp, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{Source: src}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if len(resp.Msg.Diagnostics) == 0 {
		t.Fatal("expected diagnostics for a type error")
	}
	if d := resp.Msg.Diagnostics[0]; d.Line != 4 || d.Message == "" {
		t.Errorf("diagnostic = %+v, want one on line 4", d)
	}
	if resp.Msg.Bytecode != "" {
		t.Error("failed compile should not return bytecode")
	}
}

func TestCompileEmptySource(t *testing.T) {
	_, err := compileClient.CallUnary(bg(), connectReq(&CompileRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Compile(empty) = %v, want CodeInvalidArgument", err)
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRunMalformedBytecode(t *testing.T) {
	_, err := runClient.CallUnary(bg(), connectReq(&RunRequest{Bytecode: "0x3f zz"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Run(malformed) = %v, want CodeInvalidArgument", err)
	}
}

func TestRunExitCode(t *testing.T) {
	code := compileSource(t, `package main

import "rbvm/libc"

func main() {
	libc.Puts("leaving")
	libc.Exit(3)
}
`)
	resp, err := runClient.CallUnary(bg(), connectReq(&RunRequest{Bytecode: code}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Msg.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", resp.Msg.ExitCode)
	}
	if resp.Msg.Stdout != "leaving\n" {
		t.Errorf("Stdout = %q, want %q", resp.Msg.Stdout, "leaving\n")
	}
}

func TestRunStdin(t *testing.T) {
	code := compileSource(t, `package main

import "rbvm/libc"

func main() {
	var n int
	libc.Scanf("%ld", &n)
	libc.Printf("%ld\n", n+1)
}
`)
	resp, err := runClient.CallUnary(bg(), connectReq(&RunRequest{Bytecode: code, Stdin: "41\n"}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Msg.Stdout != "42\n" {
		t.Errorf("Stdout = %q, want %q", resp.Msg.Stdout, "42\n")
	}
}

func TestRunStepLimit(t *testing.T) {
	code := compileSource(t, "package main\n\nvar n int\n\nfunc main() {\n\tfor {\n\t\tn++\n\t}\n}\n")
	resp, err := runClient.CallUnary(bg(), connectReq(&RunRequest{Bytecode: code}))
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if resp.Msg.ExitCode != 1 || !strings.Contains(resp.Msg.Error, "step limit") {
		t.Errorf("Run = exit %d, error %q; want a step limit fault", resp.Msg.ExitCode, resp.Msg.Error)
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestSessionEcho(t *testing.T) {
	code := compileSource(t, echoSource)

	start, err := startClient.CallUnary(bg(), connectReq(&StartRequest{Bytecode: code}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	id := start.Msg.SessionID
	if len(id) != sessionIDLen {
		t.Errorf("SessionID = %q, want %d letters", id, sessionIDLen)
	}
	if start.Msg.Output != "ready" {
		t.Errorf("first line = %q, want %q", start.Msg.Output, "ready")
	}

	for _, line := range []string{"hello", "again"} {
		resp, err := communicateClient.CallUnary(bg(), connectReq(&CommunicateRequest{SessionID: id, Line: line}))
		if err != nil {
			t.Fatalf("Communicate returned error: %v", err)
		}
		if resp.Msg.Output != line || resp.Msg.Finished {
			t.Errorf("Communicate(%q) = %+v, want the line echoed", line, resp.Msg)
		}
	}

	if _, err := stopClient.CallUnary(bg(), connectReq(&StopRequest{SessionID: id})); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	_, err = communicateClient.CallUnary(bg(), connectReq(&CommunicateRequest{SessionID: id, Line: "late"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Communicate after Stop = %v, want CodeNotFound", err)
	}
}

func TestSessionFinishes(t *testing.T) {
	code := compileSource(t, `package main

import "rbvm/libc"

func main() {
	libc.Puts("bye")
	libc.Exit(4)
}
`)
	start, err := startClient.CallUnary(bg(), connectReq(&StartRequest{Bytecode: code}))
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer testServer.Sessions().Destroy(start.Msg.SessionID)
	if start.Msg.Output != "bye" {
		t.Errorf("first line = %q, want %q", start.Msg.Output, "bye")
	}

	resp, err := communicateClient.CallUnary(bg(), connectReq(&CommunicateRequest{SessionID: start.Msg.SessionID, Line: "x"}))
	if err != nil {
		t.Fatalf("Communicate returned error: %v", err)
	}
	if !resp.Msg.Finished || resp.Msg.ExitCode != 4 {
		t.Errorf("Communicate = %+v, want finished with exit 4", resp.Msg)
	}
}

func TestUnknownSession(t *testing.T) {
	_, err := communicateClient.CallUnary(bg(), connectReq(&CommunicateRequest{SessionID: "nosuchid", Line: "x"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Communicate(unknown) = %v, want CodeNotFound", err)
	}
	_, err = stopClient.CallUnary(bg(), connectReq(&StopRequest{SessionID: "nosuchid"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Stop(unknown) = %v, want CodeNotFound", err)
	}
	_, err = stopClient.CallUnary(bg(), connectReq(&StopRequest{}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Stop(empty) = %v, want CodeInvalidArgument", err)
	}
}

func TestServiceErrorsAreConnectErrors(t *testing.T) {
	svc := NewSessionService(NewSessionStore(), 0)
	_, err := svc.Stop(bg(), connectReq(&StopRequest{SessionID: "abcdefgh"}))
	var ce *connect.Error
	if !errors.As(err, &ce) || ce.Code() != connect.CodeNotFound {
		t.Errorf("Stop = %v, want a *connect.Error with CodeNotFound", err)
	}
}
