package config

import "maps"

// Redacted returns a copy of the config with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func (c *Config) Redacted() Config {
	out := *c

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Feed.APISecret)
	redact(&out.Feed.SecretPassword)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Universe.Currencies = append([]string(nil), c.Universe.Currencies...)
	out.Universe.Exchanges = append([]string(nil), c.Universe.Exchanges...)
	out.Universe.Pairs = append([]string(nil), c.Universe.Pairs...)
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), c.Notify.Events...)
	out.Safety.QuantityPrecision = maps.Clone(c.Safety.QuantityPrecision)
	if c.Paper.Balances != nil {
		out.Paper.Balances = make(map[string]map[string]float64, len(c.Paper.Balances))
		for ex, row := range c.Paper.Balances {
			out.Paper.Balances[ex] = maps.Clone(row)
		}
	}
	if c.Paper.Quotes != nil {
		out.Paper.Quotes = make(map[string]map[string]PaperQuote, len(c.Paper.Quotes))
		for ex, row := range c.Paper.Quotes {
			out.Paper.Quotes[ex] = maps.Clone(row)
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
