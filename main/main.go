package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/smartserow/gateway"
	"github.com/smartserow/gateway/api"
	"github.com/smartserow/gateway/forwarder"
	"github.com/smartserow/gateway/store"
)

var (
	configFile     = flag.String("config", "gateway.toml", "configuration file")
	forwarderFile  = flag.String("forwarder", "udpforwarder.toml", "udp forwarder configuration file")
	listenAddr     = flag.String("listen", ":5000", "http listen address")
	testMode       = flag.Bool("testmode", false, "generate synthetic data")
	printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")
)

func main() {
	log.SetLevel(log.InfoLevel)
	flag.Parse()

	cfg, err := gateway.LoadConfig(*configFile)
	if err != nil {
		log.Warnf("unable to load config, using defaults: %v", err)
		cfg = gateway.DefaultConfig()
	}
	if *testMode {
		cfg.TestMode = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := gateway.New(cfg)

	fwder, err := forwarder.NewUDPForwarder(*forwarderFile)
	if err != nil {
		log.Fatal("unable to load UDP forwarder: ", err)
	}
	gw.MCU.OnData(chain(
		fwder.Channel("telemetry", cfg.Throttle.TelemetryInterval()),
		printer(*printTelemetry),
	))
	gw.GPS.OnData(fwder.Channel("gps", cfg.Throttle.GPSInterval()))
	go func() {
		_ = fwder.Start(ctx)
	}()

	gw.Start()
	defer gw.Stop()

	go func() {
		log.Infof("http listening on %s", *listenAddr)
		if err := http.ListenAndServe(*listenAddr, api.NewServer(gw).Handler()); err != nil {
			log.Fatal("http server: ", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")
}

func chain(handlers ...store.Handler) store.Handler {
	return store.HandlerFunc(func(snap store.Snapshot) {
		for _, h := range handlers {
			if h != nil {
				h.HandleSnapshot(snap)
			}
		}
	})
}

func printer(enabled bool) store.Handler {
	if !enabled {
		return nil
	}
	return store.HandlerFunc(func(snap store.Snapshot) {
		fmt.Printf("%+v\n", snap.Fields)
	})
}
