package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fieldops.org/internal/authn"
	"fieldops.org/internal/config"
	"fieldops.org/internal/credstore"
	"fieldops.org/internal/review"
	"fieldops.org/internal/task"
	"fieldops.org/internal/transport"
)

func main() {
	log.SetFlags(0)
	cfgPath := flag.String("config", defaultConfigPath(), "path to configuration file")
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := app.run(ctx, flag.Args()); err != nil {
		if task.IsPrecondition(err) {
			log.Fatalf("rejected: %v", err)
		}
		log.Fatalf("error: %v", err)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fieldops.yaml"
	}
	return filepath.Join(home, ".fieldops", "config.yaml")
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: fieldops [-config path] <command> [args]

commands:
  login -u <username> -p <password>   authenticate and store credentials
  logout                              drop stored credentials
  create                              create a draft task (see create -h)
  list                                list tasks (see list -h)
  show <id>                           print one task
  publish <id>                        hand a draft to its assignee
  progress <id> <goal#> <value>       record evidence for one goal
  submit <id>                         submit an active task for review
  review <id>                         print a task with advisory evaluations
  approve <id>                        approve a task under review
  deny <id> [-reason text]            deny a task under review
  delete <id>                         soft-delete a draft
  restore <id>                        restore a deleted task (admin)
  notes <id>                          list notes
  note <id> <text>                    append a note
`)
	os.Exit(1)
}

// app wires the client stack: credential store, refresher, executor, engine,
// review workflow.
type app struct {
	store  *credstore.Store
	auth   *authn.Service
	engine *task.Engine
	review *review.Workflow
}

func newApp(cfg config.Config) (*app, error) {
	store, err := credstore.NewPersistent(credstore.NewFileStore(cfg.Credentials.Path))
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: cfg.Authority.Timeout.Std()}
	auth, err := authn.New(cfg.Authority.BaseURL, store, authn.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	exec, err := transport.New(cfg.Authority.BaseURL, store,
		transport.WithHTTPClient(httpClient),
		transport.WithRefresher(auth),
		transport.WithRateLimit(cfg.Rate.PerSec, cfg.Rate.Burst),
	)
	if err != nil {
		return nil, err
	}
	engine := task.NewEngine(exec, store)
	return &app{
		store:  store,
		auth:   auth,
		engine: engine,
		review: review.New(engine, exec),
	}, nil
}
