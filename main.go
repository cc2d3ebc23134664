package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	parseArgs()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := overrides.apply(cfg); err != nil {
		return err
	}

	log.Init(cfg.Log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, db.Close())
	}()
	p := &persistence{store: db}

	if offline.requested() {
		return runOffline(ctx, p, cfg, offline, os.Stdout)
	}

	log.Print(getAboutStr())
	return runScanner(ctx, cfg, p)
}

func runScanner(ctx context.Context, cfg *config, p *persistence) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := newEventBus(0)
	civ := newCIVControl(bus, cfg.Scanner.ScopeFloorDB, cfg.Scanner.ScopeRangeDB)

	var bookmarks bookmarkSource
	var bf *bookmarkFile
	if cfg.Bookmarks != "" {
		bf = newBookmarkFile(cfg.Bookmarks)
		if err := bf.load(); err != nil {
			log.Error("can't load bookmarks: ", err)
		}
		bookmarks = bf
	}

	reg := newIgnoreRegistry(civ, bookmarks, cfg.Scanner.VoiceModes, cfg.Scanner.DigitalKeywords)
	entries, err := p.loadBlacklist(ctx)
	if err != nil {
		return err
	}
	reg.replace(entries)
	reg.onChange = func(entries []ignoreEntry) {
		if err := p.saveBlacklist(context.Background(), entries); err != nil {
			log.Error("can't save blacklist: ", err)
		}
	}

	engineCfg := cfg.Scanner.engineConfig()
	sc := newScanner(realClock{}, civ, civ, reg, engineCfg)
	st, err := p.loadSettings(ctx, defaultScanSettings(engineCfg.delayTime))
	if err != nil {
		log.Error("can't load settings, using defaults: ", err)
	}
	sc.applySettings(st)
	sc.onSettingsChange = func(st scanSettings) {
		if err := p.saveSettings(context.Background(), st); err != nil {
			log.Error("can't save settings: ", err)
		}
	}

	bus.subscribe(eventManualRetune, func(e radioEvent) { sc.onManualRetune(e.Freq) })
	bus.subscribe(eventProfileChanged, func(radioEvent) { sc.onProfileChanged() })
	bus.subscribe(eventModulationChanged, func(e radioEvent) { sc.onModulationChanged(e.Modulation) })

	stream, err := dialCIVStream(ctx, cfg.CIV.Address, cfg.CIV.CommandRate)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, stream.Close())
	}()

	if err := civ.init(stream); err != nil {
		return fmt.Errorf("initializing radio: %w", err)
	}

	bindScannerKeys(sc, reg, cfg.TransferFile, cancel)
	statusLog.startPeriodicPrint(sc, reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.readLoop(gctx, civ.decode) })
	g.Go(func() error { return civ.loop(gctx) })
	g.Go(func() error { return bus.run(gctx) })
	if bf != nil {
		g.Go(func() error { return bf.watch(gctx) })
	}

	err = g.Wait()

	sc.stop()
	statusLog.stopPeriodicPrint()
	err = multierr.Combine(err, keyboard.deinit(), civ.deinit())
	log.Print("exiting")
	return err
}
