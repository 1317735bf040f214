package system

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/julianstephens/milkrun/internal/api"
	"github.com/julianstephens/milkrun/internal/cli"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/metrics"
	"github.com/julianstephens/milkrun/internal/service"
)

// ServeCmd exposes the delivery service over HTTP. Requests identify the
// customer with the X-Customer-ID header.
type ServeCmd struct {
	Addr string `help:"Address to listen on." default:"${listen_addr}" env:"MILKRUN_LISTEN"`
}

func (c *ServeCmd) Run(ctx *cli.Context) error {
	if _, err := ctx.RequireLocal(); err != nil {
		return err
	}

	// A fresh backend: the CLI's default customer must not leak into requests
	svc := service.New(ctx.Store, service.WithClock(ctx.Clock))
	handler := api.New(svc, metrics.New())
	srv := api.NewServer(c.Addr, handler.Router())

	sigCtx, stop := signal.NotifyContext(ctx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Serving milkrun API on %s (customer header %s)\n", c.Addr, constants.CustomerHeader)
	if err := api.Serve(sigCtx, srv); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	logger.Info("API server stopped")
	return nil
}
