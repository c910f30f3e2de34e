// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package forkvm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/forkvm/config"
	"github.com/ava-labs/forkvm/storage"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Run loads the configuration from command line [args], forks the chain and
// serves its API on the configured address until [ctx] is done.
func Run(ctx context.Context, args []string, rt *Runtime, provider storage.Provider) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	if err := cfg.SetupLogging(); err != nil {
		return err
	}

	chain, err := Open(ctx, cfg, rt, provider)
	if err != nil {
		return err
	}
	return closeAll(
		func() error { return Serve(ctx, cfg.HTTPAddr, chain) },
		chain.Close,
	)
}

// Serve serves the API of [chain] on [addr] until [ctx] is done.
func Serve(ctx context.Context, addr string, chain *Chain) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, listener, chain)
}

func serveListener(ctx context.Context, listener net.Listener, chain *Chain) error {
	handler, err := NewHandler(chain)
	if err != nil {
		_ = listener.Close()
		return err
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to shut down API server", "err", err)
		}
	}()

	log.Info("serving API", "addr", listener.Addr().String(), "head", chain.Head().Number())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
