// This is the entrypoint for running a divachain validator node.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/diva-exchange/divachain/app/services/node/handlers"
	"github.com/diva-exchange/divachain/app/services/node/handlers/private"
	"github.com/diva-exchange/divachain/app/services/node/handlers/public"
	"github.com/diva-exchange/divachain/foundation/blockchain/bootstrap"
	"github.com/diva-exchange/divachain/foundation/blockchain/credit"
	"github.com/diva-exchange/divachain/foundation/blockchain/database"
	"github.com/diva-exchange/divachain/foundation/blockchain/factory"
	"github.com/diva-exchange/divachain/foundation/blockchain/genesis"
	"github.com/diva-exchange/divachain/foundation/blockchain/mempool"
	"github.com/diva-exchange/divachain/foundation/blockchain/message"
	"github.com/diva-exchange/divachain/foundation/blockchain/peer"
	"github.com/diva-exchange/divachain/foundation/blockchain/registry"
	"github.com/diva-exchange/divachain/foundation/blockchain/transport"
	"github.com/diva-exchange/divachain/foundation/blockchain/votepool"
	"github.com/diva-exchange/divachain/foundation/blockchain/wallet"
	"github.com/diva-exchange/divachain/foundation/events"
	"github.com/diva-exchange/divachain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
		}
		Node struct {
			Ident                string        `conf:"default:node"`
			IP                   string        `conf:"default:0.0.0.0"`
			Port                 uint16        `conf:"default:17468"`
			PortBlockFeed        uint16        `conf:"default:17469"`
			HTTP                 uint16        `conf:"default:17470"`
			UDP                  bool          `conf:"default:false"`
			PathKeys             string        `conf:"default:zblock/keys/"`
			PathState            string        `conf:"default:zblock/state/"`
			PathBlockstore       string        `conf:"default:zblock/blocks.db"`
			PathGenesis          string        `conf:"default:zblock/genesis.json"`
			PathAPIToken         string        `conf:"default:zblock/api.token"`
			NetworkSize          int           `conf:"default:7"`
			NetworkP2PInterval   time.Duration `conf:"default:2s"`
			NetworkMorphInterval time.Duration `conf:"default:14s"`
			Bootstrap            bool          `conf:"default:false"`
			KnownPeers           []string      `conf:"default:"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "permissioned blockchain validator node",
		},
	}

	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println("     ___________  _____   ________ _   _  ___ _____ _   _")
	fmt.Println("    |  _  |_   _||  ___| |  _  |  \\ | |/ _ \\_   _| \\ | |")
	fmt.Println("    | | | | | |  | |_    | | | | |\\| / /_\\ \\| | |  \\| |")
	fmt.Println("    | | | | | |  |  _|   | | | | . ` |  _  || | | . ` |")
	fmt.Println("    \\ \\_/ / | |  | |     \\ \\_/ / |\\  | | | || |_| |\\  |")
	fmt.Println("     \\___/  \\_/  \\_|      \\___/\\_| \\_\\_| |_\\___/\\_| \\_/")
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Wallet

	w, err := wallet.Load(cfg.Node.PathKeys, cfg.Node.Ident)
	if err != nil {
		log.Infow("startup", "status", "no key pair found, generating one", "ident", cfg.Node.Ident)
		w, err = wallet.Generate(cfg.Node.PathKeys, cfg.Node.Ident)
		if err != nil {
			return fmt.Errorf("unable to create wallet: %w", err)
		}
	}
	defer w.Close()
	log.Infow("startup", "status", "wallet ready", "publicKey", w.PublicKeyString())

	// =========================================================================
	// Genesis and Chain Store

	gen, err := genesis.Load(cfg.Node.PathGenesis)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	ser, err := database.OpenBoltStore(cfg.Node.PathBlockstore)
	if err != nil {
		return fmt.Errorf("unable to open block store: %w", err)
	}

	store, err := database.Open(ser)
	if err != nil {
		return fmt.Errorf("unable to open chain database: %w", err)
	}
	defer store.Close()

	if _, ok := store.Tip(); !ok {
		if err := store.InitGenesis(gen); err != nil {
			return fmt.Errorf("unable to init genesis: %w", err)
		}
	}

	// =========================================================================
	// Registry, Pools, Events, Feed

	reg := registry.New()
	tipHeight, _ := store.TipHeight()
	committed, err := store.Range(0, tipHeight, 0)
	if err != nil {
		return fmt.Errorf("unable to replay chain into registry: %w", err)
	}
	for _, block := range committed {
		reg.Apply(block)
	}

	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
	}

	feed := make(chan database.Block, 64)
	go func() {
		for block := range feed {
			raw, err := json.Marshal(block)
			if err != nil {
				log.Errorw("feed", "ERROR", err)
				continue
			}
			evts.Send(string(raw))
		}
	}()

	// =========================================================================
	// Transport, Router, Factory

	tr := transport.NewHTTP(w.PublicKeyString(), reg, ev)
	router := message.NewRouter(w.PublicKeyString(), tr, reg.Contains)

	mp := mempool.New()
	vp := votepool.New()
	cr := credit.New()

	fac, err := factory.New(factory.Capabilities{
		Wallet:        w,
		Router:        router,
		Registry:      reg,
		Store:         store,
		Mempool:       mp,
		Votes:         vp,
		Credit:        cr,
		Feed:          feed,
		NetworkSize:   cfg.Node.NetworkSize,
		P2PInterval:   cfg.Node.NetworkP2PInterval,
		MorphInterval: cfg.Node.NetworkMorphInterval,
		EvHandler:     ev,
	})
	if err != nil {
		return fmt.Errorf("unable to create factory: %w", err)
	}

	// =========================================================================
	// Bootstrap

	if cfg.Node.Bootstrap {
		peers := make([]peer.Peer, 0, len(reg.Snapshot()))
		for _, v := range reg.Snapshot() {
			if v.PublicKey == w.PublicKeyString() {
				continue
			}
			peers = append(peers, peer.Peer{PublicKey: v.PublicKey, Host: v.Host, Port: v.Port})
		}

		if err := bootstrap.Sync(store, reg, peers, transport.NewHTTPFetcher(), ev); err != nil {
			log.Errorw("startup", "status", "bootstrap sync failed", "ERROR", err)
		}

		if !reg.Contains(w.PublicKeyString()) {
			selfTx := database.Transaction{
				Ident:     fmt.Sprintf("self-register-%d", time.Now().UnixMilli()),
				Origin:    w.PublicKeyString(),
				Timestamp: time.Now().UnixMilli(),
				Commands: []database.Command{
					{Seq: 1, Kind: database.CommandAddPeer, PublicKey: w.PublicKeyString(), Host: cfg.Node.IP, Port: cfg.Node.Port},
				},
			}
			selfTx.Sig = w.SignString(selfTx.SigningBytes())

			if err := bootstrap.SelfRegister(router, selfTx, w.SignString); err != nil {
				log.Errorw("startup", "status", "self registration failed", "ERROR", err)
			}
		}
	}

	fac.Run()
	defer fac.Shutdown()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug router started", "host", cfg.Web.DebugHost)

	debugMux := handlers.DebugMux(build, log)
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 2)

	// =========================================================================
	// Start Public (HTTP API + block feed) and Private (node-to-node) Services

	log.Infow("startup", "status", "initializing public API")

	publicHost := fmt.Sprintf("%s:%d", cfg.Node.IP, cfg.Node.HTTP)
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		APIToken: cfg.Node.PathAPIToken,
		Public: public.Config{
			Log:      log,
			Wallet:   w,
			Factory:  fac,
			Registry: reg,
			Store:    store,
			Mempool:  mp,
			Votes:    vp,
			Credit:   cr,
			Evts:     evts,
		},
	})

	publicSrv := http.Server{
		Addr:         publicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api started", "host", publicSrv.Addr)
		serverErrors <- publicSrv.ListenAndServe()
	}()

	privateHost := fmt.Sprintf("%s:%d", cfg.Node.IP, cfg.Node.Port)
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		Private: private.Config{
			Log:     log,
			Store:   store,
			Factory: fac,
			Router:  router,
		},
	})

	privateSrv := http.Server{
		Addr:         privateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api started", "host", privateSrv.Addr)
		serverErrors <- privateSrv.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		evts.Shutdown()
		close(feed)

		ctx, cancelPriv := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPriv()
		if err := privateSrv.Shutdown(ctx); err != nil {
			privateSrv.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()
		if err := publicSrv.Shutdown(ctx); err != nil {
			publicSrv.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
