package auth

import "time"

// Config selects the authentication strategy for the http api. When
// Provider is empty and no basic credentials are set, authentication is
// disabled and every caller shares the anonymous owner.
type Config struct {
	Provider string            `mapstructure:"provider"`
	Basic    map[string]string `mapstructure:"basic"`
	Admins   []string          `mapstructure:"admins"`
	JWT      JWTConfig         `mapstructure:"jwt"`
}

type JWTConfig struct {
	Algorithm string        `mapstructure:"algorithm"`
	Audience  []string      `mapstructure:"audience"`
	Issuer    string        `mapstructure:"issuer"`
	Key       string        `mapstructure:"key"`
	KeyFile   string        `mapstructure:"keyFile"`
	ClockSkew time.Duration `mapstructure:"clockSkew"`
}
