package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/golang/glog"

	"github.com/joho/godotenv"

	"creatorbridge.com/realtime"
)

const RealtimedVersion = "0.1.0"

func main() {
	usage := `CreatorBridge realtime sync daemon.

Usage:
    realtimed [--port=<port>] [--jwt_secret=<jwt_secret>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --port=<port>              Listen port [default from PORT env, else 8080].
    --jwt_secret=<jwt_secret>  Bearer token signing secret [default from JWT_SECRET env].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RealtimedVersion)
	if err != nil {
		panic(err)
	}
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		glog.V(2).Infof("[d]no .env file, using environment\n")
	}

	port, _ := opts.String("--port")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = "8080"
	}

	jwtSecret, _ := opts.String("--jwt_secret")
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}
	if jwtSecret == "" {
		glog.Errorf("[d]missing jwt secret\n")
		os.Exit(1)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the in-memory store stands in for the storage service
	store := realtime.NewMemoryStore()

	registry := realtime.NewClientRegistryWithDefaults(cancelCtx)
	defer registry.Close()

	router := realtime.NewChangeRouterWithDefaults(cancelCtx, registry, store)
	defer router.Close()

	identities := realtime.NewIdentityResolverChain(
		realtime.NewBearerTokenResolver([]byte(jwtSecret)),
		realtime.NewSessionCookieResolver(store, "cb_session"),
	)

	server := realtime.NewServer(
		cancelCtx,
		registry,
		router,
		realtime.NewSnapshotService(store),
		realtime.NewRateLimiterWithDefaults(),
		identities,
		realtime.DefaultServerSettings(),
	)
	defer server.Close()

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Mux(),
	}

	go func() {
		glog.Infof("[d]listening on :%s\n", port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("[d]serve error = %s\n", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	glog.Infof("[d]shutting down\n")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("[d]shutdown error = %s\n", err)
	}
}
