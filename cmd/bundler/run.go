package main

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics/exp"
	"golang.org/x/sync/errgroup"

	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/rpcapi"
)

// runOptions selects which loops a subcommand runs over an otherwise
// identically-wired stack (cmd/bundler's process-split seam, DESIGN.md).
type runOptions struct {
	RunBundling bool // start each EntryPointHandle.Bundler.Run
	ServeRPC    bool // start the JSON-RPC HTTP/WS transports
	AllowP2P    bool // join the gossip mesh if cfg.P2P.Enabled
}

// run drives s according to opts until ctx is cancelled, returning the
// first error any of its component loops reports.
func run(ctx context.Context, s *stack, opts runOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.cfg.Metrics.Enabled {
		log.Info("cmd/bundler: starting metrics exporter", "addr", s.cfg.Metrics.Listen)
		exp.Setup(s.cfg.Metrics.Listen)
	}

	if opts.AllowP2P && s.mesh != nil {
		meshSrv := &http.Server{Addr: s.cfg.P2P.ListenAddr, Handler: s.mesh}
		g.Go(func() error {
			log.Info("cmd/bundler: P2P mesh listening", "addr", s.cfg.P2P.ListenAddr)
			if err := meshSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return meshSrv.Shutdown(context.Background())
		})
		for _, peer := range s.cfg.P2P.Peers {
			if err := s.mesh.Dial(ctx, peer); err != nil {
				log.Warn("cmd/bundler: dialing P2P peer failed", "peer", peer, "err", err)
			}
		}
		g.Go(func() error {
			s.service.IngestGossip(ctx, s.mesh)
			return nil
		})
	}

	if opts.RunBundling {
		for _, h := range s.handles {
			if h.Bundler == nil {
				continue
			}
			bdl := h.Bundler
			g.Go(func() error { return bdl.Run(ctx) })
		}
	} else {
		// No Bundler is running its own head subscription in this process
		// (`uopool`/`rpc` subcommands), so reputation would otherwise never
		// age here; AgeOnBlock's persisted monotonic guard (reputation/
		// reputation.go) keeps this safe to run alongside another process's
		// Bundler aging the same shared store.
		g.Go(func() error { return watchHeadsForAging(ctx, s) })
	}

	if opts.ServeRPC {
		httpCfg, wsCfg := rpcTransports(s.cfg)
		apis := rpcAPIs(s.service, s.chainID)
		srv, err := rpcapi.NewServer(apis, httpCfg, wsCfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(ctx) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// watchHeadsForAging subscribes to new heads for the sole purpose of
// driving reputation.Manager.AgeOnBlock, retrying after a backoff on a
// dropped or failed subscription the same way bundler.Bundler.watchHeads
// does.
func watchHeadsForAging(ctx context.Context, s *stack) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ch := make(chan *ethprovider.Head, 16)
		sub, err := s.eth.SubscribeNewHead(ctx, ch)
		if err != nil {
			log.Warn("cmd/bundler: subscribing to new heads for reputation aging failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
			}
			continue
		}

		drained := drainHeadsForAging(ctx, s, ch, sub)
		if !drained {
			return ctx.Err()
		}
	}
}

func drainHeadsForAging(ctx context.Context, s *stack, ch chan *ethprovider.Head, sub event.Subscription) bool {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			if err != nil {
				log.Warn("cmd/bundler: reputation aging head subscription dropped, resubscribing", "err", err)
			}
			return true
		case head := <-ch:
			if err := s.reputation.AgeOnBlock(head.Number); err != nil {
				log.Warn("cmd/bundler: applying reputation block aging failed", "block", head.Number, "err", err)
			}
		}
	}
}
