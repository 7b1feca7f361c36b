package am

import (
	"github.com/spf13/viper"
)

// DefaultHandles are the VPA suffixes probed for each number, in order.
var DefaultHandles = []string{
	"@ybl", "@axl", "@ptsbi", "@upi", "@oksbi",
	"@okaxis", "@okicici", "@ibl", "@okhdfcbank", "@ptyes",
}

// DefaultServerPort is the HTTP control server port
const DefaultServerPort = 8787

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Lookup defaults
	v.SetDefault("lookup.endpoint", "https://spyshadow.site/upi.php?upi_id={upi_id}")
	v.SetDefault("lookup.handles", DefaultHandles)
	v.SetDefault("lookup.timeout_seconds", 15)
	v.SetDefault("lookup.max_attempts", 3)
	v.SetDefault("lookup.backoff_base_ms", 500)
	v.SetDefault("lookup.backoff_max_ms", 8000)
	v.SetDefault("lookup.block_private_ips", true)

	// Rate limit defaults
	v.SetDefault("rate_limit.calls_per_second", 5)
	v.SetDefault("rate_limit.window_ms", 1000)
	v.SetDefault("rate_limit.policy", PolicySlidingWindow)

	// Worker pool defaults
	v.SetDefault("pool.workers", 3)

	// Input validation defaults (Indian mobile numbers)
	v.SetDefault("input.min_digits", 10)
	v.SetDefault("input.max_digits", 10)
	v.SetDefault("input.pattern", "")

	// Database defaults
	v.SetDefault("database.path", "upilookup.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})
}

// Default returns a Config populated only from defaults.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always unmarshal; a failure here is a programming error
		panic(err)
	}
	return cfg
}
