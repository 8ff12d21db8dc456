package config

type Limits struct {
	MaxTurnsPerPhase  int             `yaml:"max_turns_per_phase" validate:"required,min=1,max=20"`
	LoopWindow        int             `yaml:"loop_window" validate:"required,min=3,max=20"`
	MaxAutoIterations int             `yaml:"max_auto_iterations" validate:"required,min=1,max=500"`
	MaxRetries        int             `yaml:"max_retries" validate:"min=0,max=10"`
	RateLimit         RateLimitConfig `yaml:"rate_limit" validate:"required"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxTurnsPerPhase:  3,
		LoopWindow:        5,
		MaxAutoIterations: 60,
		MaxRetries:        3,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         15,
		},
	}
}
