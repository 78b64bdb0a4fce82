// Package agent wires the SDK into a long-running daemon: config loading
// and hot reload, the property store, the device session, and scheduled
// certificate renewal.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"devlink/internal/config"
	"devlink/internal/device"
	"devlink/internal/eventbus"
	"devlink/internal/store"
	logx "devlink/pkg/logx"
)

const defaultRenewalSchedule = "0 3 * * *"

type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus eventbus.Bus
	st  store.Store
	dev *device.Device

	cron    *cron.Cron
	renewID cron.EntryID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("component", "config")))
	mgr.SetValidator(func(_ context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	st, err := openStore(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	dev, err := buildDevice(cfg, st, bus, log)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	return &App{
		mgr:    mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		st:     st,
		dev:    dev,
		cron:   cron.New(),
	}, nil
}

func openStore(cfg *config.Config, log logx.Logger) (store.Store, error) {
	if cfg.Store == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open property store: %w", err)
	}
	return st, nil
}

func buildDevice(cfg *config.Config, st store.Store, bus eventbus.Bus, log logx.Logger) (*device.Device, error) {
	opts := device.Options{
		Realm:             cfg.Device.Realm,
		DeviceID:          cfg.Device.DeviceID,
		CredentialsSecret: cfg.Device.CredentialsSecret,
		PairingURL:        cfg.Device.PairingURL,
		StateDir:          cfg.Device.StateDir,
		Store:             st,
		ServerInterfaces:  cfg.Device.ServerInterfaces,
	}

	var err error
	if opts.RequestTimeout, err = config.ParseDurationField("device.request_timeout", cfg.Device.RequestTimeout); err != nil {
		return nil, err
	}
	if opts.ExpiryMargin, err = config.ParseDurationOrDefault("renewal.expiry_margin", cfg.Renewal.ExpiryMargin, 48*time.Hour); err != nil {
		return nil, err
	}
	if t := cfg.Transport; t != nil {
		if opts.Keepalive, err = config.ParseDurationField("transport.keepalive", t.Keepalive); err != nil {
			return nil, err
		}
		if opts.ConnectTimeout, err = config.ParseDurationField("transport.connect_timeout", t.ConnectTimeout); err != nil {
			return nil, err
		}
		if opts.OpTimeout, err = config.ParseDurationField("transport.op_timeout", t.OpTimeout); err != nil {
			return nil, err
		}
		if opts.ReconnectEvery, err = config.ParseDurationField("transport.reconnect_every", t.ReconnectEvery); err != nil {
			return nil, err
		}
	}

	return device.New(opts, bus, log.With(logx.String("component", "device")))
}

// Device exposes the running device facade (for embedding the agent).
func (a *App) Device() *device.Device { return a.dev }

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Config hot reload.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.mgr.Watch(runCtx)
	}()
	updates := a.mgr.Subscribe(2)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.consumeConfigUpdates(runCtx, updates)
	}()

	// Device session. Run() retries pairing-level failures here instead of
	// exiting, so a platform outage at boot doesn't kill the daemon.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			err := a.dev.Run(runCtx)
			if runCtx.Err() != nil {
				return
			}
			a.log.Error("device session ended; restarting in 10s", logx.Err(err))
			select {
			case <-runCtx.Done():
				return
			case <-time.After(10 * time.Second):
			}
		}
	}()

	// Scheduled certificate renewal.
	if cfg := a.mgr.Get(); cfg != nil && cfg.Renewal.Enabled {
		if err := a.scheduleRenewal(runCtx, cfg.Renewal.Schedule); err != nil {
			cancel()
			a.wg.Wait()
			return err
		}
	}
	a.cron.Start()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("agent started")
	return nil
}

func (a *App) scheduleRenewal(ctx context.Context, schedule string) error {
	spec := strings.TrimSpace(schedule)
	if spec == "" {
		spec = defaultRenewalSchedule
	}
	id, err := a.cron.AddFunc(spec, func() {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := a.dev.EnsureCredentials(cctx); err != nil {
			a.log.Warn("scheduled credential renewal failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("renewal.schedule: %w", err)
	}
	a.renewID = id
	return nil
}

func (a *App) consumeConfigUpdates(ctx context.Context, updates chan *config.Config) {
	var prev *config.Config
	if prev = a.mgr.Get(); prev == nil {
		prev = &config.Config{}
	}
	for {
		select {
		case <-ctx.Done():
			a.mgr.Unsubscribe(updates)
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) == 0 {
				prev = cfg
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)

			for _, section := range changed {
				switch section {
				case "logging":
					a.logSvc.Apply(logx.Config{
						Level:   cfg.Logging.Level,
						Console: cfg.Logging.Console,
						File: logx.FileConfig{
							Enabled: cfg.Logging.File.Enabled,
							Path:    cfg.Logging.File.Path,
						},
					})
				case "renewal":
					if a.renewID != 0 {
						a.cron.Remove(a.renewID)
						a.renewID = 0
					}
					if cfg.Renewal.Enabled {
						if err := a.scheduleRenewal(ctx, cfg.Renewal.Schedule); err != nil {
							a.log.Warn("renewal reschedule failed", logx.Err(err))
						}
					}
				case "device", "store", "transport":
					// These sections take effect on restart only.
					a.log.Warn("config section requires restart to apply",
						logx.String("section", section))
				}
			}
			prev = cfg
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	a.wg.Wait()

	if a.st != nil {
		_ = a.st.Close()
	}
	a.log.Info("agent stopped")
	return a.logSvc.Close()
}
