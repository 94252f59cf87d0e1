package config

import (
	"maps"
	"slices"
)

// RedactedConfig returns a copy of cfg with secrets replaced by "***".
// Slices and maps are copied so the result can be mutated safely. Use it
// when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Database.DSN)
	redact(&out.Database.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.WebhookSecret)
	out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i := range out.Server.APIKeys {
		out.Server.APIKeys[i] = redacted
	}

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Ledger.Operators = slices.Clone(cfg.Ledger.Operators)
	out.Ledger.DailyCaps = maps.Clone(cfg.Ledger.DailyCaps)
	out.Chain.Tokens = maps.Clone(cfg.Chain.Tokens)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
