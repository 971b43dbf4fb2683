package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/alanyoungcy/gflexbot/internal/config"
)

// options are the command-line settings. Only flags given explicitly
// override the loaded configuration.
type options struct {
	configPath string
	logFile    string
	set        map[string]string
	side       string
}

// parseFlags parses args (without the program name). The optional
// positional argument is the side.
func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gflexbot", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{set: make(map[string]string)}
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML configuration file (optional)")
	fs.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")

	// Values are kept as strings and applied in apply so an unset flag
	// leaves the configuration untouched.
	fs.String("mode", "", "trade | dual | listen | simulate | watch")
	fs.String("host", "", "marketplace host")
	fs.String("u", "", "account username")
	fs.String("p", "", "account password")
	fs.String("r", "", "run time in seconds (0 = forever, negative = one order)")
	fs.String("s", "", "base sleep time between orders in seconds")
	fs.Bool("test", false, "fill in missing order fields at random")
	fs.Bool("once", false, "send exactly one order")
	fs.Bool("listen", false, "run the push listener alongside trading")
	fs.String("quantity", "", "order power")
	fs.String("price", "", "order price")
	fs.String("delivery_start", "", "delivery start, e.g. 2026-10-18T12:00:00")
	fs.String("delivery_end", "", "delivery end")
	fs.String("expiry_time", "", "order expiry")
	fs.String("location_ids", "", "comma-separated location IDs")
	fs.String("country_code", "", "country code (CZ, DE, CH, ES, FI, FR or empty)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "config" && f.Name != "log-file" {
			opts.set[f.Name] = f.Value.String()
		}
	})

	switch fs.NArg() {
	case 0:
	case 1:
		opts.side = fs.Arg(0)
	default:
		return nil, fmt.Errorf("unexpected arguments %v (usage: gflexbot [flags] [buy|sell])", fs.Args()[1:])
	}
	return opts, nil
}

// apply writes the explicitly given flags over cfg.
func (o *options) apply(cfg *config.Config) error {
	if o.side != "" {
		cfg.Params.Side = o.side
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}
	for name, v := range o.set {
		if err := applyFlag(cfg, name, v); err != nil {
			return fmt.Errorf("flag -%s: %w", name, err)
		}
	}
	return nil
}

func applyFlag(cfg *config.Config, name, v string) error {
	switch name {
	case "mode":
		cfg.Mode = v
	case "host":
		cfg.Market.Host = v
	case "u":
		cfg.User.Username = v
	case "p":
		cfg.User.Password = v
	case "r":
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		cfg.Params.RunTime = n
	case "s":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.Params.SleepTime = f
	case "test":
		cfg.Params.Test = v == "true"
	case "once":
		cfg.Params.RunOnce = v == "true"
	case "listen":
		cfg.Listener.Enabled = v == "true"
	case "quantity":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.Order.Quantity = &f
	case "price":
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.Order.Price = &f
	case "delivery_start":
		cfg.Order.DeliveryStart = v
	case "delivery_end":
		cfg.Order.DeliveryEnd = v
	case "expiry_time":
		cfg.Order.ExpiryTime = v
	case "location_ids":
		cfg.Order.LocationIDs = config.SplitList(v)
	case "country_code":
		cfg.Order.CountryCode = &v
	}
	return nil
}
