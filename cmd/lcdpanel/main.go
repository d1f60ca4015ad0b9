package main

import (
	"context"
	"errors"
	"flag"
	"image/color"
	"os"
	"os/signal"
	"syscall"

	"github.com/disintegration/imaging"

	"lcdpanel/internal/config"
	"lcdpanel/internal/convert"
	"lcdpanel/internal/drawer"
	"lcdpanel/internal/fbdev"
	"lcdpanel/internal/hw"
	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/refresh"
	"lcdpanel/internal/source"
	"lcdpanel/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	noHW       bool
	debug      bool
	dump       string
	pattern    bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Error("bad log level", err)
		os.Exit(1)
	}
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("lcdpanel starting", "version", "0.1.0")
	appLog.Info("effective config",
		"spi", conf.SPI.Bus,
		"speed_hz", conf.SPI.SpeedHz,
		"size", conf.Geometry().Bounds().Size(),
		"rotation", conf.Panel.Rotation,
		"color_order", conf.Panel.ColorOrder,
		"layout", conf.Panel.Layout,
		"source", conf.Source.Kind,
		"refresh", conf.RefreshCron,
		"listen", conf.Listen,
		"once", flags.once,
		"no_hw", flags.noHW,
	)

	if err := run(conf, flags); err != nil {
		appLog.Error("lcdpanel failed", err)
		os.Exit(1)
	}
	appLog.Info("lcdpanel exiting")
}

func run(conf *config.Config, flags flagConfig) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout, err := convert.ParseLayout(conf.Panel.Layout)
	if err != nil {
		return err
	}

	open := hw.Open
	if flags.noHW {
		open = hw.OpenNull
	}
	h, err := open(conf)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			appLog.Error("failed to close panel", cerr)
			err = errors.Join(err, cerr)
		}
	}()
	if err := h.Dev.Init(); err != nil {
		return err
	}

	panel := drawer.New(h.Dev, layout)
	frames := fbdev.New(panel, panel.Bounds())
	// Controller RAM is undefined after reset.
	if err := panel.Fill(color.Black); err != nil {
		return err
	}

	if flags.pattern {
		if err := drawer.ColorBars(panel); err != nil {
			return err
		}
		appLog.Info("color bars shown")
		if flags.once {
			return dumpPreview(panel, flags.dump)
		}
	}

	src, err := source.FromConfig(conf.Source, panel.Bounds().Size())
	if err != nil {
		return err
	}
	runner := refresh.New(src, panel)
	defer runner.Stop()

	if flags.once {
		if err := runner.RunOnce(ctx); err != nil {
			return err
		}
		return dumpPreview(panel, flags.dump)
	}

	if src != nil && conf.RefreshCron != "" {
		if err := runner.Start(ctx, conf.RefreshCron); err != nil {
			return err
		}
		// Show something before the first tick.
		runner.Go(ctx)
	}

	if conf.Listen == "" {
		<-ctx.Done()
		return dumpPreview(panel, flags.dump)
	}

	info := web.PanelInfo{
		Device:     h.Dev.String(),
		Width:      panel.Bounds().Dx(),
		Height:     panel.Bounds().Dy(),
		Rotation:   conf.Panel.Rotation,
		ColorOrder: conf.Panel.ColorOrder,
		Layout:     layout.String(),
		NoHardware: flags.noHW,
	}
	srv := web.NewServer(conf, info, panel, frames, runner)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	if flags.noHW {
		appLog.Info("null panel closed", "bytes_discarded", h.BytesDiscarded())
	}
	return dumpPreview(panel, flags.dump)
}

func dumpPreview(panel *drawer.Panel, path string) error {
	if path == "" {
		return nil
	}
	if err := imaging.Save(panel.Snapshot(), path); err != nil {
		return err
	}
	appLog.Info("preview written", "path", path)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/lcdpanel/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Pull one frame from the source, show it and exit")
	flag.BoolVar(&cfg.noHW, "no-hw", false, "Run against a null bus; do not touch SPI or GPIO")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cfg.pattern, "pattern", false, "Show color bars after init; with -once, exit afterwards")
	flag.StringVar(&cfg.dump, "dump", "", "Write the final frame as an image to this path on exit")

	flag.Parse()

	return cfg
}
