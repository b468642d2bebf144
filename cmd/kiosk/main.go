package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"facekiosk/internal/config"
	"facekiosk/internal/journal"
	"facekiosk/internal/mobile"
	"facekiosk/internal/settings"
	"facekiosk/internal/share"
	"facekiosk/internal/utils"
	"facekiosk/internal/validate"
)

type options struct {
	cmd    string
	image  string
	name   string
	order  string
	level  string
	key    string
	value  string
	outDir string
	toS3   bool
}

func main() {
	var o options
	cfgPath := flag.String("config", os.Getenv("FACEKIOSK_CONFIG"), "Config file (JSON or YAML)")
	flag.StringVar(&o.cmd, "cmd", "health", "Command: recognize|register|health|network|logs|export|clear-logs|settings|set|reset")
	flag.StringVar(&o.image, "image", "", "JPEG or PNG file (recognize, register)")
	flag.StringVar(&o.name, "name", "", "Customer name (register)")
	flag.StringVar(&o.order, "order", "", "Order details (register)")
	flag.StringVar(&o.level, "level", "", "Only show entries of this level (logs)")
	flag.StringVar(&o.key, "key", "", "Setting key (set)")
	flag.StringVar(&o.value, "value", "", "Setting value (set)")
	flag.StringVar(&o.outDir, "out", ".", "Directory for exported logs (export)")
	flag.BoolVar(&o.toS3, "s3", false, "Upload the export to the configured S3 bucket (export)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	logger, closer, err := utils.NewLogger(cfg.LogFile, utils.ParseLevel(cfg.LogLevel))
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := mobile.NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	err = run(ctx, app, o, os.Stdout)
	if cerr := app.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Println("Error:", mobile.UserMessage(err))
		logger.Debug("command failed", "cmd", o.cmd, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, app *mobile.App, o options, out io.Writer) error {
	switch o.cmd {
	case "recognize":
		if o.image == "" {
			return errors.New("--image required")
		}
		rec, err := app.RecognizeFile(ctx, o.image)
		if err != nil {
			return err
		}
		printRecognition(out, rec)
	case "register":
		if o.image == "" {
			return errors.New("--image required")
		}
		resp, err := app.RegisterFile(ctx, o.image, o.name, o.order)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Registered %s (customer %s)\n", o.name, resp.CustomerID)
	case "health":
		if err := app.Client.Health(ctx); err != nil {
			return err
		}
		s := app.Settings.Snapshot(ctx)
		fmt.Fprintf(out, "Server %s:%d is healthy\n", s.ServerHost, s.HTTPPort)
	case "network":
		return printJSON(out, app.Network.Current(ctx))
	case "logs":
		level := journal.Level(o.level)
		if level != "" && !level.Valid() {
			return fmt.Errorf("unknown level %q", o.level)
		}
		return printJSON(out, app.Journal.Query(journal.Filter{Level: level}))
	case "export":
		var sink share.Sink = share.FileSink{Dir: o.outDir}
		if o.toS3 {
			s3sink, err := share.NewS3Sink(ctx, share.S3Config{
				Bucket:   app.Config.S3Bucket,
				Region:   app.Config.S3Region,
				Endpoint: app.Config.S3Endpoint,
			})
			if err != nil {
				return err
			}
			sink = s3sink
		}
		loc, err := app.ExportLogs(ctx, sink)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Logs exported to", loc)
	case "clear-logs":
		if err := app.Journal.Clear(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Logs cleared")
	case "settings":
		return printJSON(out, app.Settings.Snapshot(ctx))
	case "set":
		return setting(ctx, app, o.key, o.value, out)
	case "reset":
		return printJSON(out, app.ResetSettings(ctx))
	default:
		return fmt.Errorf("unknown command %q", o.cmd)
	}
	return nil
}

// setting validates one key/value pair the way the settings screen does and
// stores it.
func setting(ctx context.Context, app *mobile.App, key, value string, out io.Writer) error {
	var update map[string]any
	switch settings.Key(key) {
	case settings.KeyBranchID:
		if err := validate.BranchID(value); err != nil {
			return err
		}
		update = map[string]any{key: value}
	case settings.KeyServerHost:
		if err := validate.ServerHost(value); err != nil {
			return err
		}
		update = map[string]any{key: strings.TrimSpace(value)}
	case settings.KeyServerPort, settings.KeyHTTPPort:
		if err := validate.Port(key, value); err != nil {
			return err
		}
		n, _ := strconv.Atoi(strings.TrimSpace(value))
		update = map[string]any{key: float64(n)}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	saved := app.ApplySettings(ctx, update)
	if !saved[settings.Key(key)] {
		return fmt.Errorf("could not save %s", key)
	}
	fmt.Fprintf(out, "%s saved\n", key)
	return nil
}

func printRecognition(out io.Writer, rec *mobile.Recognition) {
	resp := rec.Response
	if !resp.Recognized {
		fmt.Fprintln(out, "Customer not recognized")
		return
	}
	fmt.Fprintf(out, "Welcome back, %s (customer %s)\n", resp.CustomerName, resp.CustomerID)
	if o := resp.LatestOrder; o != nil {
		fmt.Fprintf(out, "Latest order: %s (%s)\n", o.OrderDetails, o.OrderDate)
		if rec.DifferentBranch {
			fmt.Fprintf(out, "Note: ordered at %s\n", o.BranchID)
		}
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
