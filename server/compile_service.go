package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/rbvm/compiler"
	"github.com/chazu/rbvm/disasm"
	"github.com/chazu/rbvm/frontend"
)

const defaultFilename = "main.go"

// CompileService translates Go-subset sources to bytecode.
type CompileService struct {
	cache *Cache
}

// NewCompileService creates a CompileService. cache may be nil.
func NewCompileService(cache *Cache) *CompileService {
	return &CompileService{cache: cache}
}

// Compile compiles a source file. Compile errors are reported as
// diagnostics in a successful response.
func (s *CompileService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	filename := req.Msg.Filename
	if filename == "" {
		filename = defaultFilename
	}

	hash := SourceHash(filename + "\x00" + req.Msg.Source)
	if s.cache != nil {
		a, err := s.cache.Get(ctx, hash)
		switch {
		case err == nil:
			log.Debugf("cache hit %s", hash[:12])
			return connect.NewResponse(&CompileResponse{
				Bytecode:    EncodeHex(a.Code),
				Disassembly: a.Disassembly,
				Cached:      true,
			}), nil
		case !errors.Is(err, ErrCacheMiss):
			log.Warningf("cache: %s", err)
		}
	}

	a, diags := build(filename, req.Msg.Source)
	if diags != nil {
		return connect.NewResponse(&CompileResponse{Diagnostics: diags}), nil
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, hash, a); err != nil {
			log.Warningf("cache: %s", err)
		}
	}
	return connect.NewResponse(&CompileResponse{
		Bytecode:    EncodeHex(a.Code),
		Disassembly: a.Disassembly,
	}), nil
}

// build runs the frontend, the generator and the disassembler over source.
func build(filename, source string) (*Artifact, []*Diagnostic) {
	m, err := frontend.Compile(filename, []byte(source))
	if err != nil {
		return nil, diagnostics(err)
	}
	prog, err := compiler.Compile(m)
	if err != nil {
		return nil, diagnostics(err)
	}
	listing, err := disasm.Disassemble(prog.Code, prog.Debug)
	if err != nil {
		return nil, diagnostics(err)
	}
	return &Artifact{Code: prog.Code, Disassembly: listing, Debug: prog.Debug}, nil
}

func diagnostics(err error) []*Diagnostic {
	var diags []*Diagnostic
	for _, e := range frontend.Diagnostics(err) {
		d := &Diagnostic{Message: e.Msg}
		if e.Pos.IsValid() {
			d.Line, d.Column = e.Pos.Line, e.Pos.Column
		}
		diags = append(diags, d)
	}
	return diags
}
