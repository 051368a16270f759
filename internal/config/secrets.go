package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// placeholder "***". Use it whenever the active configuration is logged.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Chain.RPCURL) // provider URLs usually embed an API key
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)

	// Slices are copied so the redacted value cannot alias the original.
	out.DEXes = append([]DEXConfig(nil), cfg.DEXes...)
	out.Tokens = append([]TokenConfig(nil), cfg.Tokens...)
	out.Pairs = append([]PairConfig(nil), cfg.Pairs...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
