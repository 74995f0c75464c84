// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/lulzzz/aika/internal/api"
	"github.com/lulzzz/aika/internal/auth"
	"github.com/lulzzz/aika/internal/config"
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/internal/ingest"
	"github.com/lulzzz/aika/internal/memorystore"
	"github.com/lulzzz/aika/internal/repository"
	"github.com/lulzzz/aika/internal/runtimeEnv"
	"github.com/lulzzz/aika/internal/taskManager"
	"github.com/lulzzz/aika/pkg/log"
)

var (
	version = "1.0.0"
	date    string
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("Version:\t%s\n", version)
		if date != "" {
			fmt.Printf("Build date:\t%s\n", date)
		}
		os.Exit(0)
	}

	log.SetLogLevel(flagLogLevel)
	log.SetLogDateTime(flagLogDateTime)

	if err := runtimeEnv.LoadEnv("./.env"); err != nil {
		log.Fatalf("Could not parse '.env' file: %v", err)
	}

	if flagInit {
		initialSetup()
		return
	}

	config.Init(flagConfigFile)

	var opts []memorystore.Option
	opts = append(opts,
		memorystore.WithPolicy(auth.RolePolicy{}),
		memorystore.WithMaxRawSamples(config.Keys.MaxRawSamples))

	var conn *repository.DBConnection
	if config.Keys.DBDriver != "" {
		var err error
		conn, err = repository.Connect(config.Keys.DBDriver, config.Keys.DB)
		if err != nil {
			log.Fatalf("Could not open catalog database: %v", err)
		}
		defer conn.Close()
		opts = append(opts, memorystore.WithCatalog(repository.NewTagCatalog(conn)))
	}

	store := memorystore.New(opts...)
	reg := prometheus.NewRegistry()
	hist := historian.New(store, reg)

	initCtx, cancelInit := context.WithTimeout(context.Background(), time.Minute)
	if err := hist.Init(initCtx); err != nil {
		cancelInit()
		log.Fatalf("Historian init failed: %v", err)
	}
	cancelInit()

	if !flagServer {
		log.Print("Initialization complete, exiting (use -server to keep running)")
		return
	}

	restApi := &api.RestApi{Historian: hist}
	if !config.Keys.DisableAuthentication {
		ja, err := auth.NewJWTAuthenticator()
		if err != nil {
			log.Fatalf("Could not set up authentication: %v", err)
		}
		restApi.Authentication = ja
	}
	if config.Keys.WriteRateLimit > 0 {
		restApi.WriteLimiter = rate.NewLimiter(rate.Limit(config.Keys.WriteRateLimit), config.Keys.WriteRateBurst)
	}

	r := mux.NewRouter()
	restApi.MountRoutes(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler := handlers.CustomLoggingHandler(log.InfoWriter, handlers.RecoveryHandler()(r),
		func(w io.Writer, params handlers.LogFormatterParams) {
			log.Debugf("%s %s (%d, %.02fkb, %dms)",
				params.Request.Method, params.URL.RequestURI(),
				params.StatusCode, float32(params.Size)/1024,
				time.Since(params.TimeStamp).Milliseconds())
		})

	server := &http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		Handler:      handler,
		Addr:         config.Keys.Addr,
	}

	var ingester *ingest.Ingester
	if config.Keys.Nats != nil {
		var err error
		if ingester, err = ingest.Start(hist, config.Keys.Nats); err != nil {
			log.Fatalf("Could not start NATS ingest: %v", err)
		}
	}

	tm := taskManager.Start(hist, store)

	go func() {
		log.Infof("HTTP server listening at %s", config.Keys.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server startup failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Print("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	if ingester != nil {
		ingester.Close()
	}
	tm.Shutdown()
	if err := hist.FlushSnapshots(shutdownCtx); err != nil {
		log.Warnf("Final snapshot flush: %v", err)
	}
	hist.Shutdown()
}

// initialSetup writes the var directory and a default config file so
// a first `aika -server` run works out of the box.
func initialSetup() {
	if err := os.MkdirAll("./var", 0o700); err != nil {
		log.Fatalf("Could not create ./var: %v", err)
	}
	const configContent = `{
	"addr": "127.0.0.1:8080",
	"disable-authentication": true,
	"db-driver": "sqlite3",
	"db": "./var/aika.db",
	"max-raw-samples": 5000,
	"snapshot-flush-interval": "1m"
}
`
	if _, err := os.Stat("./config.json"); err == nil {
		log.Fatal("./config.json already exists")
	}
	if err := os.WriteFile("./config.json", []byte(configContent), 0o666); err != nil {
		log.Fatalf("Could not write config.json: %v", err)
	}
	log.Print("Wrote ./config.json, adjust it and start with -server")
}
