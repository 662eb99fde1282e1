// rbvm-server serves compile, run and interactive sessions over Connect,
// a gRPC health endpoint, and optionally an LSP on stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/rbvm/manifest"
	"github.com/chazu/rbvm/server"
	"github.com/chazu/rbvm/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest rbvm.toml)")
	addr := flag.String("addr", "", "Connect listen address (default: from config)")
	healthAddr := flag.String("health-addr", "", "gRPC health listen address (default: from config)")
	lspMode := flag.Bool("lsp", false, "Serve the language server on stdio")
	probe := flag.String("probe", "", "Probe the gRPC health endpoint at this address and exit")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rbvm-server [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  rbvm-server                          # serve on the configured address\n")
		fmt.Fprintf(os.Stderr, "  rbvm-server -addr :8080              # serve Connect on :8080\n")
		fmt.Fprintf(os.Stderr, "  rbvm-server -lsp                     # language server on stdio\n")
		fmt.Fprintf(os.Stderr, "  rbvm-server -probe localhost:8421    # list services and health\n")
	}
	flag.Parse()

	cfg, err := manifest.Resolve(*configPath)
	if err != nil {
		fatal(err)
	}
	if *verbose {
		cfg.ConfigureLogging(2)
	} else {
		cfg.ConfigureLogging(0)
	}

	if *probe != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		report, err := server.Probe(ctx, *probe)
		if err != nil {
			fatal(err)
		}
		for _, name := range report.Services {
			fmt.Println(name)
		}
		fmt.Println(report.Status)
		return
	}

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fatal(err)
		}
		return
	}

	if *addr == "" {
		*addr = cfg.Server.Addr
	}
	if *healthAddr == "" {
		*healthAddr = cfg.Server.HealthAddr
	}

	srv, err := server.New(
		server.WithCache(cfg.Server.Cache),
		server.WithSessionTTL(cfg.SessionTTL()),
		server.WithRunTimeout(cfg.RunTimeout()),
		server.WithVMOptions(
			vm.WithMaxSteps(cfg.VM.MaxSteps),
			vm.WithMaxDepth(cfg.VM.MaxDepth),
			vm.WithHeapLimit(cfg.VM.HeapLimit)))
	if err != nil {
		fatal(err)
	}

	var health *server.HealthServer
	if *healthAddr != "" {
		health = server.NewHealthServer()
		go func() {
			if err := health.ListenAndServe(*healthAddr); err != nil {
				fmt.Fprintf(os.Stderr, "Health server error: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if health != nil {
			health.Stop()
		}
		srv.Stop()
	}()

	if err := srv.ListenAndServe(*addr); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
