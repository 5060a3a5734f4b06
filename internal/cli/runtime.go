package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/cascade"
	"github.com/LeJamon/goDarkpool/internal/config"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
	"github.com/LeJamon/goDarkpool/internal/order"
	"github.com/LeJamon/goDarkpool/internal/proof"
	"github.com/LeJamon/goDarkpool/internal/settlement"
	"github.com/LeJamon/goDarkpool/internal/tracker"
)

var errNoKeypair = errors.New("--keypair is required for commands that sign transactions")

// runtimeEnv is the wiring shared by every command. Collaborators that talk
// to the network are built on first use.
type runtimeEnv struct {
	cfg      *config.Config
	logger   *zap.Logger
	programs config.ProgramIDs
	deriver  *address.Deriver
	registry *prometheus.Registry
	rec      metrics.Recorder

	client  ledger.Client
	enc     *cascade.Cascade
	tracker *tracker.Tracker
	settle  *settlement.Cascade
}

var rt *runtimeEnv

func loadRuntime(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	programs, err := cfg.ProgramIDs()
	if err != nil {
		return err
	}
	deriver, err := address.NewDeriver(programs.AddressPrograms(), cfg.Cache.AddressCacheSize)
	if err != nil {
		return err
	}

	env := &runtimeEnv{
		cfg:      cfg,
		logger:   logger,
		programs: programs,
		deriver:  deriver,
		registry: prometheus.NewRegistry(),
		rec:      metrics.Nop{},
	}
	if cfg.Metrics.Enabled {
		env.rec = metrics.NewMetrics(cfg.Metrics.Namespace, env.registry)
	}
	rt = env
	return nil
}

func closeRuntime() {
	if rt == nil {
		return
	}
	if rt.tracker != nil {
		rt.tracker.Stop()
	}
	if rt.settle != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.settle.Close(ctx); err != nil {
			rt.logger.Warn("close settlement providers", zap.Error(err))
		}
		cancel()
	}
	_ = rt.logger.Sync()
	rt = nil
}

func (r *runtimeEnv) commitment() ledger.Commitment {
	return ledger.Commitment(r.cfg.Ledger.Commitment)
}

func (r *runtimeEnv) ledgerClient() ledger.Client {
	if r.client == nil {
		r.client = ledger.NewRPCClient(r.cfg.Ledger.RPCURL, r.commitment(), r.cfg.Ledger.RequestTimeout, r.logger)
	}
	return r.client
}

// encryption builds and initializes the encryption cascade. A cascade with
// no ready provider is returned without error so its status can be shown;
// encrypting through it fails.
func (r *runtimeEnv) encryption(ctx context.Context) (*cascade.Cascade, error) {
	if r.enc != nil {
		return r.enc, nil
	}
	enc, err := cascade.FromConfig(r.cfg.Encryption, r.ledgerClient(), r.deriver, r.logger, r.rec)
	if err != nil {
		return nil, err
	}
	if err := enc.Initialize(ctx); err != nil {
		r.logger.Warn("no encryption provider ready", zap.Error(err))
	}
	r.enc = enc
	return enc, nil
}

func (r *runtimeEnv) keypair() (*ledger.Keypair, error) {
	if keypairFile == "" {
		return nil, errNoKeypair
	}
	return ledger.LoadKeypairFile(keypairFile)
}

func (r *runtimeEnv) submitter() (*ledger.Submitter, error) {
	kp, err := r.keypair()
	if err != nil {
		return nil, err
	}
	return ledger.NewSubmitter(r.ledgerClient(), kp, r.commitment(), r.cfg.Ledger.PollInterval), nil
}

func (r *runtimeEnv) computationTracker() *tracker.Tracker {
	if r.tracker == nil {
		tc := r.cfg.Tracker
		r.tracker = tracker.New(ledger.NewWSClient(r.cfg.Ledger.WSURL, r.commitment(), r.logger), tracker.Options{
			Program:        r.programs.Darkpool,
			StaleAfter:     tc.StaleAfter,
			SweepInterval:  tc.SweepInterval,
			CompareTimeout: tc.CompareTimeout,
			FillTimeout:    tc.FillTimeout,
			Logger:         r.logger,
			Metrics:        r.rec,
		})
	}
	return r.tracker
}

func (r *runtimeEnv) orders(ctx context.Context) (*order.Client, error) {
	sub, err := r.submitter()
	if err != nil {
		return nil, err
	}
	enc, err := r.encryption(ctx)
	if err != nil {
		return nil, err
	}
	return order.NewClient(order.Config{
		Darkpool:      r.programs.Darkpool,
		MPC:           r.programs.MPC,
		ClusterOffset: r.cfg.Cluster.Offset,
	}, r.ledgerClient(), sub, r.deriver, enc, r.computationTracker(), r.logger), nil
}

// readOnlyOrders returns an order client for commands that do not sign.
func (r *runtimeEnv) readOnlyOrders(ctx context.Context) (*order.Client, error) {
	enc, err := r.encryption(ctx)
	if err != nil {
		return nil, err
	}
	return order.NewClient(order.Config{
		Darkpool:      r.programs.Darkpool,
		MPC:           r.programs.MPC,
		ClusterOffset: r.cfg.Cluster.Offset,
	}, r.ledgerClient(), nil, r.deriver, enc, nil, r.logger), nil
}

func (r *runtimeEnv) settlement(ctx context.Context) (*settlement.Cascade, address.Pubkey, error) {
	sub, err := r.submitter()
	if err != nil {
		return nil, address.Pubkey{}, err
	}
	if r.settle == nil {
		enc, err := r.encryption(ctx)
		if err != nil {
			return nil, address.Pubkey{}, err
		}
		r.settle, err = settlement.FromConfig(ctx, r.cfg.Settlement, r.programs, settlement.Deps{
			Client:    r.ledgerClient(),
			Submitter: sub,
			Deriver:   r.deriver,
			Encrypter: enc,
			Logger:    r.logger,
			Metrics:   r.rec,
		})
		if err != nil {
			return nil, address.Pubkey{}, err
		}
	}
	return r.settle, sub.Payer(), nil
}

func (r *runtimeEnv) prover() *proof.Client {
	return proof.New(r.cfg.Proof.URL, r.cfg.Proof.Timeout, r.logger, r.rec)
}

// serveMetrics exposes the registry on the configured listen address until
// ctx ends. It is a no-op when metrics are disabled.
func (r *runtimeEnv) serveMetrics(ctx context.Context) {
	if !r.cfg.Metrics.Enabled || r.cfg.Metrics.Listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(r.registry))
	srv := &http.Server{Addr: r.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		r.logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
}

// withConfirmTimeout bounds a command that submits transactions.
func (r *runtimeEnv) withConfirmTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.Ledger.ConfirmTimeout)
}

func parsePubkeyArg(name, s string) (address.Pubkey, error) {
	pk, err := address.ParsePubkey(s)
	if err != nil {
		return address.Pubkey{}, fmt.Errorf("%s: %w", name, err)
	}
	return pk, nil
}
