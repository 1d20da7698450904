package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cometbft/cometbft/abci/server"
	"github.com/sirupsen/logrus"

	"riverchain/internal/app"
	"riverchain/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}

	var (
		home      = flag.String("home", cfg.Home, "app home directory (state will be stored under <home>/app)")
		addr      = flag.String("addr", cfg.ListenAddr, "ABCI listen address")
		transport = flag.String("transport", cfg.Transport, "ABCI transport (socket|grpc)")
		logLevel  = flag.String("log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
		logJSON   = flag.Bool("log-json", cfg.LogJSON, "log in JSON format")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("parse log level")
	}
	logrus.SetLevel(level)
	if *logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	a, err := app.New(*home)
	if err != nil {
		logrus.WithError(err).Fatal("init app")
	}

	srv, err := server.NewServer(*addr, *transport, a)
	if err != nil {
		logrus.WithError(err).Fatal("create abci server")
	}
	if err := srv.Start(); err != nil {
		logrus.WithError(err).Fatal("start abci server")
	}
	defer func() { _ = srv.Stop() }()

	logrus.WithFields(logrus.Fields{
		"addr":      *addr,
		"transport": *transport,
		"home":      *home,
	}).Info("riverchaind started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logrus.Info("shutting down")
}
