package rpcapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/cors"
)

// APIs bundles the three namespaced API structs a Server registers.
// EthAPI and DebugAPI are pointers (they carry *service.Service); Web3API
// is stateless.
type APIs struct {
	Eth   *EthAPI
	Web3  Web3API
	Debug *DebugAPI
}

func (a APIs) byNamespace() map[string]interface{} {
	return map[string]interface{}{
		"eth":   a.Eth,
		"web3":  a.Web3,
		"debug": a.Debug,
	}
}

// TransportConfig carries one transport's listen address, enabled
// namespace allow-list, and allowed origins.
type TransportConfig struct {
	Addr    string
	Modules []string
	Origins []string
}

// Server runs the HTTP and WebSocket JSON-RPC transports side by side,
// each its own *rpc.Server so a method not in a transport's module
// allow-list is simply unregistered there and answers "method not found"
// without any allow-list logic of our own (spec §6). Grounded on
// other_examples' coreth plugin/vm.go CreateHandlers (rpc.NewServer,
// RegisterName per enabled namespace, WebsocketHandler(origins)); no file
// in the teacher itself builds a server-side rpc.Server (see DESIGN.md).
type Server struct {
	http *http.Server
	ws   *http.Server
	errs chan error
}

// NewServer builds (but does not start) the HTTP and WS transports from
// apis and their respective TransportConfig.
func NewServer(apis APIs, httpCfg, wsCfg TransportConfig) (*Server, error) {
	httpRPC, err := newNamespacedServer(httpCfg.Modules, apis.byNamespace())
	if err != nil {
		return nil, fmt.Errorf("rpcapi: building HTTP transport: %w", err)
	}
	wsRPC, err := newNamespacedServer(wsCfg.Modules, apis.byNamespace())
	if err != nil {
		return nil, fmt.Errorf("rpcapi: building WS transport: %w", err)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: httpCfg.Origins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
	}).Handler(httpRPC)

	return &Server{
		http: &http.Server{Addr: httpCfg.Addr, Handler: corsHandler},
		ws:   &http.Server{Addr: wsCfg.Addr, Handler: wsRPC.WebsocketHandler(wsCfg.Origins)},
		errs: make(chan error, 2),
	}, nil
}

func newNamespacedServer(modules []string, byNamespace map[string]interface{}) (*rpc.Server, error) {
	allowed := make(map[string]bool, len(modules))
	for _, m := range modules {
		allowed[m] = true
	}

	srv := rpc.NewServer()
	for name, api := range byNamespace {
		if !allowed[name] {
			continue
		}
		if err := srv.RegisterName(name, api); err != nil {
			return nil, fmt.Errorf("registering %s namespace: %w", name, err)
		}
	}
	return srv, nil
}

// Run starts both transports and blocks until ctx is cancelled, then
// shuts both down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		log.Info("rpcapi: HTTP transport listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errs <- fmt.Errorf("rpcapi: HTTP transport: %w", err)
		}
	}()
	go func() {
		log.Info("rpcapi: WS transport listening", "addr", s.ws.Addr)
		if err := s.ws.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.errs <- fmt.Errorf("rpcapi: WS transport: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		_ = s.http.Shutdown(context.Background())
		_ = s.ws.Shutdown(context.Background())
		return ctx.Err()
	case err := <-s.errs:
		_ = s.http.Shutdown(context.Background())
		_ = s.ws.Shutdown(context.Background())
		return err
	}
}
