package log

import "github.com/rs/zerolog"

// Config controls logger formatting and level. It is filled from the
// environment with the LOGGER_ prefix (LOGGER_LEVEL, LOGGER_HUMANFRIENDLY,
// LOGGER_NOCOLOREDOUTPUT).
type Config struct {
	HumanFriendly   bool   `envconfig:"optional"` // console output instead of JSON
	NoColoredOutput bool   `envconfig:"optional"` // disable ANSI colors in console output
	Level           string `envconfig:"optional"` // "trace", "debug", "info", "warn", "error"
	Component       string `envconfig:"optional"` // normally set by each binary
}

// SetDefault fills an empty Level with info.
func (c *Config) SetDefault() {
	if c.Level == "" {
		c.Level = zerolog.InfoLevel.String()
	}
}
