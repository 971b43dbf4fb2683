package config

// RedactedConfig returns a copy of cfg with passwords, tokens and keys
// replaced by "***", for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redactUser(&out.User)
	redactUser(&out.Accounts.Buyer)
	redactUser(&out.Accounts.Seller)

	if cfg.Simulation.Traders != nil {
		out.Simulation.Traders = make([]TraderConfig, len(cfg.Simulation.Traders))
		copy(out.Simulation.Traders, cfg.Simulation.Traders)
		for i := range out.Simulation.Traders {
			redact(&out.Simulation.Traders[i].Password)
		}
	}

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Listener.Endpoints = cloneStrings(cfg.Listener.Endpoints)
	out.Order.LocationIDs = cloneStrings(cfg.Order.LocationIDs)

	return out
}

const redacted = "***"

func redactUser(u *UserConfig) {
	redact(&u.Password)
	redact(&u.KeyPassword)
}

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
