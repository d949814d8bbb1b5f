package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		schemaDir   = flag.String("schemas", "./schemas", "json schema directory")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		regionsPath = flag.String("regions", "", "path to regions.yaml (default: <configs>/regions.yaml)")
		serverID    = flag.String("server_id", "server_1", "server id reported to the remote index")
		seed        = flag.Int64("seed", 0, "decision rng seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	mirror, err := openMirror(strings.TrimSpace(*serverID), logger)
	if err != nil {
		logger.Fatalf("index mirror: %v", err)
	}

	archive, err := openArchive(*dataDir, log.New(os.Stdout, "[archive] ", logger.Flags()))
	if err != nil {
		logger.Fatalf("archive: %v", err)
	}

	rt, err := buildRuntime(runtimeOptions{
		ConfigDir:   *configDir,
		SchemaDir:   *schemaDir,
		TuningPath:  strings.TrimSpace(*tuningPath),
		RegionsPath: strings.TrimSpace(*regionsPath),
		DataDir:     *dataDir,
		ServerID:    strings.TrimSpace(*serverID),
		Token:       strings.TrimSpace(os.Getenv("GW_WS_TOKEN")),
		Seed:        *seed,
		Archive:     archive,
	}, mirror, logger)
	if err != nil {
		if mirror != nil {
			_ = mirror.Close()
		}
		archive.Close()
		logger.Fatalf("startup: %v", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("notifier stopped: %v", err)
		}
	}()

	mux := rt.mux(httpOptions{
		EnableAdmin: envBool("GW_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		EnablePprof: envBool("GW_ENABLE_PPROF_HTTP", false),
	}, logger)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Hijacked websocket sessions outlive srv.Shutdown; they are drained
	// here so rt.Close never races an in-flight RECORD.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		if err := rt.ws.Shutdown(ctx2); err != nil {
			logger.Printf("ws shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
		cancel()
	}
	<-drained
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
