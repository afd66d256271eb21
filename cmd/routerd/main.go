//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/openfpga/routerd/internal/capture"
	"github.com/openfpga/routerd/internal/config"
	"github.com/openfpga/routerd/internal/netio"
	"github.com/openfpga/routerd/internal/nf"
	"github.com/openfpga/routerd/internal/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configPath           = flag.String("config", "/etc/routerd/config.json", "path to the router configuration file")
	devicePath           = flag.String("device", "/dev/nf2c0", "path to the forwarding device node")
	capturePath          = flag.String("capture", "", "write punted frames to a pcap file")
	enableVerboseLogging = flag.Bool("v", false, "enables verbose logging")
	logJSON              = flag.Bool("log-json", false, "log in JSON instead of the terminal format")
	metricsEnable        = flag.Bool("metrics-enable", false, "enable prometheus metrics")
	metricsAddr          = flag.String("metrics-addr", "localhost:0", "address to listen on for prometheus metrics")
	versionFlag          = flag.Bool("version", false, "build version")

	// set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	flag.Parse()

	logger := newLogger(*enableVerboseLogging, *logJSON)
	slog.SetDefault(logger)

	if *versionFlag {
		fmt.Printf("build: %s\n", commit)
		fmt.Printf("version: %s\n", version)
		fmt.Printf("date: %s\n", date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	ifaces, err := cfg.ParseInterfaces()
	if err != nil {
		logger.Error("failed to parse interfaces", "error", err)
		os.Exit(1)
	}
	staticARP, err := cfg.ParseStaticARP()
	if err != nil {
		logger.Error("failed to parse static arp entries", "error", err)
		os.Exit(1)
	}

	dev, err := nf.OpenFileDevice(*devicePath)
	if err != nil {
		logger.Error("failed to open device", "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	ports := make([]netio.PortConn, len(ifaces))
	for i, ifc := range ifaces {
		link, err := net.InterfaceByName(ifc.Name)
		if err != nil {
			logger.Error("failed to resolve interface", "interface", ifc.Name, "error", err)
			os.Exit(1)
		}
		ports[i], err = netio.OpenPort(link.Index)
		if err != nil {
			logger.Error("failed to open port", "interface", ifc.Name, "error", err)
			os.Exit(1)
		}
	}

	rcfg := &router.Config{
		Logger:        logger,
		Device:        dev,
		Ports:         ports,
		Interfaces:    ifaces,
		RouterID:      cfg.RouterID,
		AreaID:        cfg.AreaID,
		HelloInterval: cfg.HelloInterval,
		RTableFile:    cfg.RTableFile,
	}
	for _, sa := range staticARP {
		rcfg.StaticARP = append(rcfg.StaticARP, router.StaticARP{IP: sa.IP, MAC: sa.MAC})
	}

	if *capturePath != "" {
		cw, err := capture.NewWriter(*capturePath)
		if err != nil {
			logger.Error("failed to open capture file", "error", err)
			os.Exit(1)
		}
		defer cw.Close()
		rcfg.Capture = cw
	}

	if *metricsEnable {
		registry := prometheus.NewRegistry()
		rcfg.MetricsRegistry = registry
		lis, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			logger.Error("failed to listen for metrics", "error", err)
			os.Exit(1)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("metrics listening", "addr", lis.Addr().String())
			if err := http.Serve(lis, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	r, err := router.New(rcfg)
	if err != nil {
		logger.Error("failed to initialize router", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil {
		logger.Error("router exited", "error", err)
		os.Exit(1)
	}
	logger.Info("router stopped")
}

func newLogger(verbose, json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: level}))
}
