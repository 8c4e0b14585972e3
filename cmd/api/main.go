package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DecentCredit/internal/config"
	"DecentCredit/internal/crypt"
	"DecentCredit/internal/db"
	internalhttp "DecentCredit/internal/http"
	"DecentCredit/internal/ledger"
	"DecentCredit/internal/metrics"
	"DecentCredit/internal/proof"
	"DecentCredit/internal/registry"
	"DecentCredit/internal/services"
	"DecentCredit/internal/settlement"
	"DecentCredit/internal/store"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cp, err := newCrypto(cfg)
	if err != nil {
		log.Fatalf("crypto init failed: %v", err)
	}
	proofKey, err := cp.Derive("record-proof", proof.KeySize)
	if err != nil {
		log.Fatalf("proof key derive failed: %v", err)
	}
	proofs, err := proof.New(proofKey)
	if err != nil {
		log.Fatalf("proof init failed: %v", err)
	}

	var st store.Store
	if cfg.DB.DSN == "" {
		log.Printf("db.dsn empty, records are kept in memory")
		st = store.NewMemory()
	} else {
		pool, err := db.Connect(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()
		st = store.NewPostgres(pool)
	}

	m := metrics.New()
	client, err := ledger.NewMultiClient(
		cfg.Ledger.Endpoints,
		cfg.Ledger.FailoverThreshold,
		time.Duration(cfg.Ledger.TimeoutSeconds)*time.Second,
		cp,
		m,
	)
	if err != nil {
		log.Fatalf("ledger client init failed: %v", err)
	}

	worker := settlement.NewWorker(client, settlement.Config{
		Treasury:     cfg.Ledger.TreasuryAccount,
		QueueSize:    cfg.Settlement.QueueSize,
		Workers:      cfg.Settlement.Workers,
		MaxAttempts:  cfg.Settlement.MaxAttempts,
		Backoff:      time.Duration(cfg.Settlement.BackoffMS) * time.Millisecond,
		ReceiptLimit: cfg.Settlement.ReceiptLimit,
	})
	worker.Observer = m

	feedEndpoints := cfg.Ledger.WSEndpoints
	if len(feedEndpoints) == 0 {
		if ep := ledger.DefaultFeedEndpoint(client.BaseURL()); ep != "" {
			feedEndpoints = []string{ep}
		}
	}
	feed := &settlement.FeedWatcher{
		Endpoints:         feedEndpoints,
		FailoverThreshold: cfg.Ledger.FailoverThreshold,
		Receipts:          worker.Receipts,
	}

	records := &services.RecordService{
		Store:      st,
		Cipher:     cp,
		Proofs:     proofs,
		Registry:   registry.FromConfig(cfg.Institutions),
		Settler:    worker,
		Observer:   m,
		BatchLimit: cfg.Records.BatchLimit,
	}

	srv := internalhttp.NewServer(internalhttp.NewHandler(records, worker), m.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()
	go feed.Run(ctx)

	go func() {
		log.Printf("api listening on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
	<-workerDone
}

func newCrypto(cfg *config.Config) (*crypt.Provider, error) {
	key, err := cfg.MasterKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Printf("crypto.master_key not set, using a random key: stored records will not decrypt after restart")
		return crypt.NewRandom()
	}
	return crypt.New(key)
}
