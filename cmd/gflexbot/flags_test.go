package main

import (
	"io"
	"testing"

	"github.com/alanyoungcy/gflexbot/internal/config"
)

func TestFlagsOverrideConfig(t *testing.T) {
	opts, err := parseFlags([]string{
		"-host", "test.glocalflex.example",
		"-u", "alice", "-p", "secret",
		"-r", "-1", "-s", "0.5",
		"-quantity", "12.5", "-price", "12.5",
		"-location_ids", "a, b,c",
		"-country_code", "DE",
		"-once",
		"-log-file", "bot.log",
		"sell",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg := config.Defaults()
	if err := opts.apply(&cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if cfg.Market.Host != "test.glocalflex.example" {
		t.Errorf("host = %q", cfg.Market.Host)
	}
	if cfg.User.Username != "alice" || cfg.User.Password != "secret" {
		t.Errorf("user = %+v", cfg.User)
	}
	if cfg.Params.RunTime != -1 || cfg.Params.SleepTime != 0.5 {
		t.Errorf("params = %+v", cfg.Params)
	}
	if !cfg.Params.RunOnce {
		t.Error("expected run once")
	}
	if cfg.Params.Side != "sell" {
		t.Errorf("side = %q, want sell", cfg.Params.Side)
	}
	if cfg.Order.Quantity == nil || *cfg.Order.Quantity != 12.5 {
		t.Errorf("quantity = %v", cfg.Order.Quantity)
	}
	if cfg.Order.Price == nil || *cfg.Order.Price != 12.5 {
		t.Errorf("price = %v", cfg.Order.Price)
	}
	if len(cfg.Order.LocationIDs) != 3 || cfg.Order.LocationIDs[2] != "c" {
		t.Errorf("location ids = %v", cfg.Order.LocationIDs)
	}
	if cfg.Order.CountryCode == nil || *cfg.Order.CountryCode != "DE" {
		t.Errorf("country code = %v", cfg.Order.CountryCode)
	}
	if cfg.LogFile != "bot.log" {
		t.Errorf("log file = %q", cfg.LogFile)
	}
}

func TestUnsetFlagsKeepConfig(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	cfg := config.Defaults()
	cfg.Market.Host = "from-file"
	cfg.Params.SleepTime = 3
	if err := opts.apply(&cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Market.Host != "from-file" || cfg.Params.SleepTime != 3 {
		t.Errorf("config overwritten: host=%q sleep=%v", cfg.Market.Host, cfg.Params.SleepTime)
	}
	if cfg.Order.Quantity != nil || cfg.Order.CountryCode != nil {
		t.Error("optional order fields should stay unset")
	}
}

func TestBadFlagValue(t *testing.T) {
	opts, err := parseFlags([]string{"-quantity", "many"}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	cfg := config.Defaults()
	if err := opts.apply(&cfg); err == nil {
		t.Fatal("expected error for non-numeric quantity")
	}
}

func TestTooManyArguments(t *testing.T) {
	if _, err := parseFlags([]string{"buy", "sell"}, io.Discard); err == nil {
		t.Fatal("expected error for two positional arguments")
	}
}
