// Command wren runs an MX that accepts mail over SMTP for local domains and
// over LMTP from trusted relays, spooling every message to disk.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
	"github.com/synqronlabs/wren/fastfail"
	"github.com/synqronlabs/wren/lmtp"
	"github.com/synqronlabs/wren/smtp"
	"github.com/synqronlabs/wren/spool"
)

type options struct {
	hostname    string
	smtpAddr    string
	lmtpAddr    string
	metricsAddr string
	spoolDir    string
	domains     string
	blocklists  string
	nameservers string
	relay       string
	maxSize     int64
	debug       bool
}

func main() {
	var opts options
	flag.StringVar(&opts.hostname, "hostname", "mail.example.com", "host name announced in banners")
	flag.StringVar(&opts.smtpAddr, "smtp", ":2525", "SMTP listen address")
	flag.StringVar(&opts.lmtpAddr, "lmtp", "127.0.0.1:2424", "LMTP listen address, empty to disable")
	flag.StringVar(&opts.metricsAddr, "metrics", "127.0.0.1:9125", "Prometheus metrics address, empty to disable")
	flag.StringVar(&opts.spoolDir, "spool", "spool", "spool directory")
	flag.StringVar(&opts.domains, "domains", "example.com", "comma separated local domains")
	flag.StringVar(&opts.blocklists, "rbl", "", "comma separated DNS blocklist zones")
	flag.StringVar(&opts.nameservers, "nameservers", "", "comma separated nameservers (host:port), default from resolv.conf")
	flag.StringVar(&opts.relay, "relay", "127.0.0.0/8,::1/128", "comma separated networks allowed to relay")
	flag.Int64Var(&opts.maxSize, "max-size", 10*1024*1024, "maximum message size in bytes")
	flag.BoolVar(&opts.debug, "debug", false, "log at debug level")
	flag.Parse()

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if err := run(opts, logger); err != nil {
		logger.Error("wren stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(opts options, logger *slog.Logger) error {
	relayNets, err := smtp.ParseNetworks(split(opts.relay)...)
	if err != nil {
		return fmt.Errorf("relay networks: %w", err)
	}

	store, err := spool.New(opts.spoolDir)
	if err != nil {
		return err
	}

	resolver := dns.NewResolver(dns.ResolverConfig{
		Nameservers: split(opts.nameservers),
		Logger:      logger.With(slog.String("component", "dns")),
	})

	policies := fastfail.Defaults(resolver, split(opts.domains)...)
	defer policies[0].(*fastfail.RateLimiter).Close()

	b := smtp.New(opts.hostname).
		Addr(opts.smtpAddr).
		Logger(logger).
		MaxMessageSize(opts.maxSize).
		RelayNetworks(relayNets...).
		Resolver(resolver).
		IdleTimeout(5 * time.Minute)
	if zones := split(opts.blocklists); len(zones) > 0 {
		b.Use(fastfail.NewDNSRBL(resolver, zones...))
	}
	smtpServer, err := b.Use(policies...).Use(store).Build()
	if err != nil {
		return fmt.Errorf("smtp: %w", err)
	}

	servers := []*wren.Server[*smtp.Session]{smtpServer}
	if opts.lmtpAddr != "" {
		lmtpServer, err := lmtp.New(opts.hostname).
			Addr(opts.lmtpAddr).
			Logger(logger).
			MaxMessageSize(opts.maxSize).
			RelayNetworks(relayNets...).
			Use(store).
			Build()
		if err != nil {
			return fmt.Errorf("lmtp: %w", err)
		}
		servers = append(servers, lmtpServer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, wren.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return metrics.Close()
		})
	}

	logger.Info("wren started",
		slog.String("hostname", opts.hostname),
		slog.String("smtp", opts.smtpAddr),
		slog.String("lmtp", opts.lmtpAddr),
		slog.String("spool", store.Dir()),
	)
	return g.Wait()
}

func split(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
