package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"habitcal/internal/battery"
	"habitcal/internal/capture"
	"habitcal/internal/config"
	"habitcal/internal/haptics"
	"habitcal/internal/ics"
	appLog "habitcal/internal/log"
	"habitcal/internal/refresh"
	"habitcal/internal/store"
	"habitcal/internal/timeline"
	"habitcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("habitcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"data_path", conf.DataPath,
		"refresh", conf.RefreshCron,
		"subscriptions", len(conf.Subscriptions),
		"drag_mode", conf.Drag.Mode,
		"haptics", conf.Haptics.Driver,
		"battery", conf.Battery.Driver,
		"preview", conf.Preview.Enabled,
		"once", flags.once,
	)

	st, err := store.Open(conf.DataPath)
	if err != nil {
		appLog.Error("failed to open store", err, "path", conf.DataPath)
		os.Exit(1)
	}

	hap := haptics.New(conf.HapticsSettings())
	if c, ok := hap.(io.Closer); ok {
		defer c.Close()
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	srv := web.NewServer(web.Options{
		Config:   conf,
		Store:    st,
		Ledger:   timeline.LedgerFrom(st.Ranks()),
		Haptics:  hap,
		Battery:  battery.NewCached(battery.New(conf.BatterySettings()), 30*time.Second),
		Location: loc,
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(ctx) }()

	job := &refresh.Job{
		Feeds:    conf.Feeds(),
		Fetcher:  ics.NewFetcher(conf.CacheDir(), nil),
		Sink:     st,
		Location: loc,
		Preview: refresh.Preview{
			BaseURL: previewBaseURL(conf),
			Path:    conf.Preview.Path,
			Width:   conf.Preview.Width,
			Height:  conf.Preview.Height,
		},
	}
	if conf.Preview.Enabled {
		job.Capture = capture.CapturePNG
	}

	if flags.once {
		// Give the listener a moment before the preview capture hits it.
		time.Sleep(200 * time.Millisecond)
		err := job.Run(ctx)
		cancel()
		<-srvErr
		if err != nil {
			appLog.Error("refresh failed", err)
			os.Exit(1)
		}
		appLog.Info("habitcal exiting")
		return
	}

	stop, err := refresh.Schedule(ctx, conf.RefreshCron, loc, job, true)
	if err != nil {
		appLog.Error("failed to schedule refresh", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}

	select {
	case err := <-srvErr:
		if err != nil {
			appLog.Error("http server failed", err, "listen", conf.Listen)
		}
		cancel()
	case <-ctx.Done():
		<-srvErr
	}
	stop()
	appLog.Info("habitcal exiting")
}

// previewBaseURL points the headless browser at the local server, with the
// basic-auth credentials when they are configured.
func previewBaseURL(conf *config.Config) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		host, port = "127.0.0.1", "8080"
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
	if a := conf.BasicAuth; a != nil && a.Username != "" && a.Password != "" {
		u.User = url.UserPassword(a.Username, a.Password)
	}
	return u.String()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/habitcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed refresh + preview capture and exit")

	flag.Parse()

	if flag.NArg() > 0 {
		appLog.Error("unexpected arguments", errors.New("positional arguments are not supported"), "args", flag.Args())
		os.Exit(2)
	}
	return cfg
}
