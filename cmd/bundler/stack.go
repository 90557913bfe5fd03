package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/zsluedem/aa-bundler/bundler"
	"github.com/zsluedem/aa-bundler/config"
	"github.com/zsluedem/aa-bundler/entrypoint"
	"github.com/zsluedem/aa-bundler/ethprovider"
	"github.com/zsluedem/aa-bundler/kv"
	"github.com/zsluedem/aa-bundler/p2p"
	"github.com/zsluedem/aa-bundler/reputation"
	"github.com/zsluedem/aa-bundler/rpcapi"
	"github.com/zsluedem/aa-bundler/service"
	"github.com/zsluedem/aa-bundler/uopool"
	"github.com/zsluedem/aa-bundler/validator"
	"github.com/zsluedem/aa-bundler/wallet"
)

// codeHashCacheBytes sizes uopool.Pool's in-process code-hash cache.
const codeHashCacheBytes = 32 * 1024 * 1024

// stack is every long-lived dependency a subcommand's run loop needs,
// wired once from cfg and torn down together on exit.
type stack struct {
	cfg     config.Config
	store   kv.Store
	eth     ethprovider.EthProvider
	chainID *big.Int

	reputation *reputation.Manager
	receipts   *service.ReceiptStore
	service    *service.Service
	handles    []*service.EntryPointHandle

	mesh *p2p.Mesh // nil unless cfg.P2P.Enabled

	signer       bundler.Signer
	flashbotsKey *ecdsa.PrivateKey
}

func (s *stack) Close() {
	if closer, ok := s.eth.(interface{ Close() }); ok {
		closer.Close()
	}
	if err := s.store.Close(); err != nil {
		log.Warn("cmd/bundler: closing storage", "err", err)
	}
}

// buildStack wires storage, the execution-client connection, reputation,
// one EntryPointHandle (EntryPoint client, mempool, validator, bundling
// loop) per configured EntryPoint, the admission facade, and optional P2P
// gossip. It does not start anything — callers decide which loops to run.
func buildStack(ctx context.Context, cfg config.Config, w *wallet.Wallet) (*stack, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	eth, err := ethprovider.Dial(ctx, cfg.EthClientURL)
	if err != nil {
		return nil, fmt.Errorf("dialing execution client %s: %w", cfg.EthClientURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading chain id: %w", err)
	}

	rep := reputation.New(store, reputationConstants(cfg))
	for _, addr := range cfg.Whitelist {
		if err := rep.AddWhitelist(addr); err != nil {
			return nil, fmt.Errorf("whitelisting %s: %w", addr, err)
		}
	}
	receipts := service.NewReceiptStore()

	var mesh *p2p.Mesh
	var sink p2p.Sink
	if cfg.P2P.Enabled {
		mesh = p2p.NewMesh(chainID)
		sink = mesh
	}

	svc := service.New(rep, receipts, sink)

	var signer bundler.Signer
	var flashbotsKey *ecdsa.PrivateKey
	if w != nil {
		signer = w
		flashbotsKey = w.Flashbots
	}

	handles := make([]*service.EntryPointHandle, 0, len(cfg.EntryPoints))
	for _, addr := range cfg.EntryPoints {
		h, err := buildEntryPointHandle(cfg, addr, chainID, eth, store, rep, signer, flashbotsKey)
		if err != nil {
			return nil, fmt.Errorf("wiring entry point %s: %w", addr, err)
		}
		svc.RegisterEntryPoint(h)
		handles = append(handles, h)
	}

	return &stack{
		cfg:          cfg,
		store:        store,
		eth:          eth,
		chainID:      chainID,
		reputation:   rep,
		receipts:     receipts,
		service:      svc,
		handles:      handles,
		mesh:         mesh,
		signer:       signer,
		flashbotsKey: flashbotsKey,
	}, nil
}

func buildEntryPointHandle(
	cfg config.Config,
	addr common.Address,
	chainID *big.Int,
	eth ethprovider.EthProvider,
	store kv.Store,
	rep *reputation.Manager,
	signer bundler.Signer,
	flashbotsKey *ecdsa.PrivateKey,
) (*service.EntryPointHandle, error) {
	ep := entrypoint.New(addr, chainID, eth)
	mempool := uopool.New(store, codeHashCacheBytes)

	vCfg := validator.DefaultConfig(addr)
	vCfg.MaxVerificationGas = cfg.MaxVerificationGas
	vCfg.Unsafe = cfg.UopoolMode == config.ModeUnsafe
	v := validator.New(vCfg, ep, eth, ep, rep, mempool)

	var bdl *bundler.Bundler
	if signer != nil {
		bCfg := bundler.DefaultConfig()
		bCfg.BundleInterval = cfg.BundleInterval
		bCfg.MinBalance = cfg.MinBalance
		bCfg.ObserveBlocks = cfg.ObserveBlocks
		bCfg.SubmitStrategy = submitStrategy(cfg.SendBundleMode)
		bCfg.FlashbotsRelays = cfg.FlashbotsRelays
		beneficiary := cfg.Beneficiary
		if beneficiary == (common.Address{}) {
			beneficiary = signer.Address()
		}
		bdl = bundler.New(bCfg, ep, eth, mempool, v, rep, chainID, signer, beneficiary, flashbotsKey)
	}

	return &service.EntryPointHandle{
		EntryPoint: ep,
		Eth:        eth,
		Mempool:    mempool,
		Validator:  v,
		Bundler:    bdl,
	}, nil
}

func submitStrategy(mode config.SendBundleMode) bundler.SubmitStrategy {
	if mode == config.SendBundleFlashbots {
		return bundler.SubmitFlashbots
	}
	return bundler.SubmitEthClient
}

func reputationConstants(cfg config.Config) reputation.Constants {
	c := reputation.DefaultConstants()
	if cfg.MinStake != nil {
		c.MinStake = cfg.MinStake
	}
	return c
}

func openStore(cfg config.Config) (kv.Store, error) {
	switch cfg.Storage {
	case config.StorageDatabase:
		return kv.OpenLevelDB(cfg.DatabasePath)
	default:
		return kv.NewMemory(), nil
	}
}

// rpcAPIs builds the namespaced API set every RPC-serving subcommand
// registers, sharing the same Service across every namespace.
func rpcAPIs(svc *service.Service, chainID *big.Int) rpcapi.APIs {
	return rpcapi.APIs{
		Eth:   rpcapi.NewEthAPI(svc, chainID),
		Web3:  rpcapi.Web3API{},
		Debug: rpcapi.NewDebugAPI(svc),
	}
}

// rpcTransports builds the HTTP/WS TransportConfig pair cfg describes.
func rpcTransports(cfg config.Config) (rpcapi.TransportConfig, rpcapi.TransportConfig) {
	httpCfg := rpcapi.TransportConfig{
		Addr:    cfg.RPCHTTPAddr,
		Modules: cfg.RPCHTTPModules,
		Origins: cfg.RPCHTTPCORS,
	}
	wsCfg := rpcapi.TransportConfig{
		Addr:    cfg.RPCWSAddr,
		Modules: cfg.RPCWSModules,
		Origins: cfg.RPCWSOrigins,
	}
	return httpCfg, wsCfg
}
