package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dgraph-io/badger"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/neurotask/reflex/components/devices"
	"github.com/neurotask/reflex/internal/configsvc"
	"github.com/neurotask/reflex/internal/respsvc"
	"github.com/neurotask/reflex/internal/respsvc/hidusb"
	"github.com/neurotask/reflex/internal/respsvc/polled"
	"github.com/neurotask/reflex/internal/respsvc/remote"
	"github.com/neurotask/reflex/pkg/respclock"
)

// Agent wires the services of the response capture daemon together.
type Agent struct {
	config Config

	log       *zap.Logger
	db        *badger.DB
	clock     *respclock.Clock
	configSvc *configsvc.Service
	respSvc   *respsvc.Service
}

func NewAgent(config Config) (*Agent, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	clock := respclock.New()
	configSvc := configsvc.New(logger.Named("config"))

	respSvc := respsvc.New(db, logger.Named("resp"), clock,
		respsvc.WithBackend(hidusb.New(logger.Named("hidusb"))),
		respsvc.WithBackend(remote.New(logger.Named("remote"), config.CaptureServer)),
		respsvc.WithBackend(polled.New(logger.Named("polled"), func(device string, channels int) (polled.Sampler, error) {
			return polled.OpenBitmaskSampler(device, channels)
		})),
	)
	devices.Register(respSvc)

	return &Agent{
		config:    config,
		log:       logger,
		db:        db,
		clock:     clock,
		configSvc: configSvc,
		respSvc:   respSvc,
	}, nil
}

// Run starts the services and blocks until ctx is cancelled. Devices
// declared in devices.yml are constructed once both services are ready
// and re-reconciled whenever the file changes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.respSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return a.watchDevices(groupCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("agent failed: %w", err)
	}
	return nil
}

func (a *Agent) watchDevices(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-a.configSvc.Ready():
	}
	select {
	case <-ctx.Done():
		return nil
	case <-a.respSvc.Ready():
	}

	cfg, err := configsvc.Register(a.configSvc, a.config.DevicesConfig, DevicesConfig{}, func(cfg DevicesConfig, err error) {
		if err != nil {
			a.log.Error("failed to reload devices config", zap.Error(err))
			return
		}
		a.constructDeclared(ctx, cfg)
	})
	if err != nil {
		a.log.Warn("devices config not readable; starting with no declared devices", zap.Error(err))
		return nil
	}
	a.constructDeclared(ctx, cfg)
	return nil
}

// constructDeclared builds every declared device. The registry
// de-duplicates, so re-applying the same declaration is harmless, and a
// device that fails to construct leaves the rest of the session intact.
func (a *Agent) constructDeclared(ctx context.Context, cfg DevicesConfig) {
	for _, decl := range cfg.Devices {
		if _, err := a.respSvc.Construct(ctx, decl.Class, decl.Params); err != nil {
			a.log.Error("failed to construct declared device",
				zap.String("class", decl.Class),
				zap.Error(err))
		}
	}
}

func (a *Agent) Close() error {
	return multierr.Append(nil, a.db.Close())
}

func (a *Agent) Resp() *respsvc.Service {
	return a.respSvc
}

func (a *Agent) Clock() *respclock.Clock {
	return a.clock
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}
