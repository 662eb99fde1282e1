package server

import "encoding/json"

// Procedure paths served by the Connect handlers.
const (
	CompileProcedure     = "/rbvm.v1.CompileService/Compile"
	RunProcedure         = "/rbvm.v1.RunService/Run"
	StartProcedure       = "/rbvm.v1.SessionService/Start"
	CommunicateProcedure = "/rbvm.v1.SessionService/Communicate"
	StopProcedure        = "/rbvm.v1.SessionService/Stop"
)

type CompileRequest struct {
	Filename string `json:"filename,omitempty"`
	Source   string `json:"source"`
}

type CompileResponse struct {
	Bytecode    string        `json:"bytecode,omitempty"`
	Disassembly string        `json:"disassembly,omitempty"`
	Diagnostics []*Diagnostic `json:"diagnostics,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
}

// Diagnostic is one compile error. Line and Column are 1-based; zero
// means the error has no source position.
type Diagnostic struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

type RunRequest struct {
	Bytecode string `json:"bytecode"`
	Stdin    string `json:"stdin,omitempty"`
}

type RunResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

type StartRequest struct {
	Bytecode string `json:"bytecode"`
}

type StartResponse struct {
	SessionID string `json:"session_id"`
	Output    string `json:"output"`
	Finished  bool   `json:"finished,omitempty"`
}

type CommunicateRequest struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

type CommunicateResponse struct {
	Output   string `json:"output"`
	Finished bool   `json:"finished,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

type StopRequest struct {
	SessionID string `json:"session_id"`
}

type StopResponse struct{}

// jsonCodec lets the Connect handlers carry plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
