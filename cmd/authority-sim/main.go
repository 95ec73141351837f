package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldops.org/internal/authority"
	"fieldops.org/internal/obs"
)

var version = "0.3.0"

func main() {
	log.SetFlags(0)
	var (
		addr   = flag.String("addr", ":8080", "listen address")
		secret = flag.String("secret", os.Getenv("FIELDOPS_AUTH_SECRET"), "token signing secret")
	)
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FIELDOPS_COMMIT"))

	if *secret == "" {
		*secret = "dev-secret"
		log.Println("warning: using built-in dev secret; set FIELDOPS_AUTH_SECRET")
	}

	// Optional DB attachment so /readyz exercises a real dependency.
	var db *sql.DB
	if dsn := os.Getenv("FIELDOPS_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	server, err := authority.New(authority.Config{
		Secret:   *secret,
		Accounts: authority.DemoAccounts(),
		Ready:    authority.ReadyProbe{DB: db},
		Version:  version,
	})
	if err != nil {
		log.Fatalf("authority: %v", err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           server.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting fieldops authority simulator %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
