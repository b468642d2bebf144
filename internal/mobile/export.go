// Package mobile composes the kiosk runtime and exposes the flows a front
// end drives: recognize, register, log export and settings.
//
// Everything is built explicitly by NewApp; there are no package globals,
// so a host process may run several Apps against different data dirs.
package mobile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"facekiosk/internal/config"
	"facekiosk/internal/crypto"
	"facekiosk/internal/journal"
	"facekiosk/internal/models"
	"facekiosk/internal/netstate"
	"facekiosk/internal/orchestrator"
	"facekiosk/internal/settings"
	"facekiosk/internal/share"
	"facekiosk/internal/storage"
	"facekiosk/internal/utils"
	"facekiosk/internal/validate"
)

// Journal categories used by the flows.
const (
	CategoryRecognition  = "RECOGNITION"
	CategoryRegistration = "REGISTRATION"
	CategoryNetwork      = "NETWORK"
	CategoryImage        = "IMAGE"
	CategorySettings     = "SETTINGS"
)

// App owns every runtime component and their lifecycle.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    storage.Store
	Settings *settings.Store
	Journal  *journal.Journal
	Network  *netstate.Observer
	Client   *orchestrator.Client
}

type appOptions struct {
	source netstate.Source
	doer   orchestrator.Doer
	store  storage.Store
	tracer trace.TracerProvider
}

// AppOption overrides a component NewApp would otherwise build from config.
type AppOption func(*appOptions)

// WithSource replaces the connectivity source chosen by cfg.Connectivity.
func WithSource(s netstate.Source) AppOption {
	return func(o *appOptions) { o.source = s }
}

// WithDoer replaces the HTTP transport of the orchestrator.
func WithDoer(d orchestrator.Doer) AppOption {
	return func(o *appOptions) { o.doer = d }
}

// WithStore replaces the storage backend chosen by cfg.Backend.
func WithStore(s storage.Store) AppOption {
	return func(o *appOptions) { o.store = s }
}

// WithTracerProvider sends request spans to tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) AppOption {
	return func(o *appOptions) { o.tracer = tp }
}

// NewApp builds the runtime described by cfg.
func NewApp(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...AppOption) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	kv := o.store
	if kv == nil {
		var err error
		if kv, err = openStore(cfg, logger); err != nil {
			return nil, err
		}
	}

	a := &App{Config: cfg, Logger: logger, Store: kv}
	a.Settings = settings.New(kv, settings.WithLogger(logger))
	a.Journal = journal.Open(ctx, kv, journal.WithLogger(logger))

	src := o.source
	if src == nil {
		src = a.source(cfg)
	}
	a.Network = netstate.New(src, netstate.WithInterval(cfg.ProbeInterval.Std()), netstate.WithLogger(logger))

	clientOpts := []orchestrator.Option{orchestrator.WithTimeout(cfg.RequestTimeout.Std())}
	if o.doer != nil {
		clientOpts = append(clientOpts, orchestrator.WithDoer(o.doer))
	}
	if o.tracer != nil {
		clientOpts = append(clientOpts, orchestrator.WithTracer(o.tracer.Tracer(orchestrator.TracerName)))
	}
	a.Client = orchestrator.New(a.Settings, a.Network, a.Journal, clientOpts...)

	if a.Settings.IsFirstLaunch(ctx) {
		logger.Info("first launch, using default settings", "branch_id", a.Settings.BranchID(ctx))
	}
	return a, nil
}

func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Backend == config.BackendMemory {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		if cfg.Seal {
			return nil, errors.New("seal_state requires the file storage backend")
		}
		db, err := storage.OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		fopts := []storage.FileOption{storage.WithFileLogger(logger)}
		if cfg.Seal {
			sealer, err := deviceSealer(cfg.DataDir)
			if err != nil {
				return nil, err
			}
			fopts = append(fopts, storage.WithSealer(sealer))
			logger.Debug("state sealing enabled")
		}
		fs, err := storage.NewFileStore(cfg.DataDir, fopts...)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// deviceSealer binds persisted state to this device and install. The key
// inputs live on the same machine as the state, so this keeps the file from
// being read elsewhere but does not protect it from a local reader.
func deviceSealer(dir string) (*crypto.Sealer, error) {
	fp, err := utils.GetDeviceFingerprint()
	if err != nil {
		return nil, fmt.Errorf("device fingerprint: %w", err)
	}
	salt, err := crypto.LoadOrCreateSalt(dir)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveStorageKey(fp, salt)
	if err != nil {
		return nil, err
	}
	return crypto.NewSealer(key)
}

func (a *App) source(cfg config.Config) netstate.Source {
	switch cfg.Connectivity {
	case config.ConnectivityDial:
		return netstate.DialSource{
			Address: func(ctx context.Context) string {
				return net.JoinHostPort(a.Settings.ServerHost(ctx), strconv.Itoa(a.Settings.HTTPPort(ctx)))
			},
		}
	case config.ConnectivityAlways:
		return netstate.NewStaticSource(netstate.State{Connected: true, Transport: netstate.TransportUnknown})
	default:
		return netstate.InterfaceSource{}
	}
}

// Close releases the storage backend.
func (a *App) Close() error {
	return a.Store.Close()
}

// Recognition is the outcome of a recognize flow.
type Recognition struct {
	Response *models.Response
	// DifferentBranch is set when the latest order was placed elsewhere.
	DifferentBranch bool
}

// Recognize runs the recognition flow for an already encoded image.
func (a *App) Recognize(ctx context.Context, imageBase64 string) (*Recognition, error) {
	if !a.Network.IsConnected(ctx) {
		a.Journal.Warn(CategoryNetwork, "No network connection for recognize", nil)
	}
	a.Journal.Info(CategoryRecognition, "Starting recognition process", map[string]any{
		"base64Length": len(imageBase64),
	})
	resp, err := a.Client.Recognize(ctx, imageBase64)
	if err != nil {
		a.Journal.Error(CategoryRecognition, "Recognition failed", err)
		return nil, err
	}
	a.Journal.Info(CategoryRecognition, "Recognition successful", map[string]any{
		"recognized":  resp.Recognized,
		"customer_id": resp.CustomerID,
		"request_id":  resp.RequestID,
	})
	branch := a.Settings.BranchID(ctx)
	return &Recognition{Response: resp, DifferentBranch: OrderFromDifferentBranch(resp, branch)}, nil
}

// RecognizeFile loads an image from disk and recognizes it.
func (a *App) RecognizeFile(ctx context.Context, path string) (*Recognition, error) {
	img, err := a.loadImage(path)
	if err != nil {
		return nil, err
	}
	return a.Recognize(ctx, img)
}

// Register validates the customer input and runs the registration flow.
func (a *App) Register(ctx context.Context, imageBase64, customerName, orderDetails string) (*models.Response, error) {
	if err := errors.Join(validate.CustomerName(customerName), validate.OrderDetails(orderDetails)); err != nil {
		return nil, err
	}
	if !a.Network.IsConnected(ctx) {
		a.Journal.Warn(CategoryNetwork, "No network connection for register", nil)
	}
	a.Journal.Info(CategoryRegistration, "Starting registration process", map[string]any{
		"customer_name": customerName,
		"base64Length":  len(imageBase64),
	})
	resp, err := a.Client.Register(ctx, imageBase64, customerName, orderDetails)
	if err != nil {
		a.Journal.Error(CategoryRegistration, "Registration failed", err)
		return nil, err
	}
	a.Journal.Info(CategoryRegistration, "Registration successful", map[string]any{
		"customer_id": resp.CustomerID,
		"request_id":  resp.RequestID,
	})
	return resp, nil
}

// RegisterFile loads an image from disk and registers it.
func (a *App) RegisterFile(ctx context.Context, path, customerName, orderDetails string) (*models.Response, error) {
	img, err := a.loadImage(path)
	if err != nil {
		return nil, err
	}
	return a.Register(ctx, img, customerName, orderDetails)
}

func (a *App) loadImage(path string) (string, error) {
	img, err := ReadImage(path)
	if err != nil {
		a.Journal.Error(CategoryImage, "Failed to convert image to base64", err)
		return "", err
	}
	a.Journal.Debug(CategoryImage, "Image converted to base64", map[string]any{"base64Length": len(img)})
	return img, nil
}

// ExportLogs writes the journal export to sink and returns its location.
func (a *App) ExportLogs(ctx context.Context, sink share.Sink) (string, error) {
	name := share.ExportName(a.Settings.BranchID(ctx), time.Now())
	loc, err := sink.Put(ctx, name, []byte(a.Journal.Export()))
	if err != nil {
		return "", fmt.Errorf("export logs: %w", err)
	}
	return loc, nil
}

// ApplySettings stores a validated partial update and reports per-key
// success. Values are expected as decoded JSON (strings and float64).
func (a *App) ApplySettings(ctx context.Context, update map[string]any) map[settings.Key]bool {
	out := make(map[settings.Key]bool, len(update))
	for _, e := range settings.Entries() {
		v, ok := update[string(e.Key)]
		if !ok {
			continue
		}
		switch e.Kind {
		case settings.KindInt:
			n, isNum := v.(float64)
			out[e.Key] = isNum && a.Settings.SetInt(ctx, e.Key, int(n))
		default:
			s, isStr := v.(string)
			out[e.Key] = isStr && a.Settings.SetString(ctx, e.Key, s)
		}
	}
	a.Journal.Info(CategorySettings, "Settings updated", out)
	return out
}

// ResetSettings restores every setting to its default.
func (a *App) ResetSettings(ctx context.Context) map[settings.Key]bool {
	out := a.Settings.Reset(ctx)
	a.Journal.Info(CategorySettings, "Settings reset to defaults", out)
	return out
}
