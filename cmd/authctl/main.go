// authctl is the operator CLI over the authentication facade and session manager.
// Without DATABASE_URL every invocation starts with empty in-memory stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/althaafka/pdfhub-api/internal/bootstrap"
	"github.com/althaafka/pdfhub-api/internal/config"
	authservice "github.com/althaafka/pdfhub-api/internal/identity/service"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "help" {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	err = dispatch(ctx, app, os.Args[1:], os.Stdout)
	if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
		log.Printf("authctl: close: %v", cerr)
	}
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		usage(os.Stderr)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "authctl: %s: %v\n", authservice.KindOf(err), err)
		os.Exit(1)
	}
}
