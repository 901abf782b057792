package upstream

// Defaults from spec.md §4.E, applied once at registry build time by
// ResolveFailoverConfig/ResolveHealthCheckConfig and never mutated again for
// the life of a RouteState generation.
const (
	DefaultConsecutiveFailuresThreshold = 3
	DefaultHealthyThreshold             = 2
	DefaultRecoveryIntervalMs           = 5000
	DefaultRecoveryTimeoutMs            = 3000
	DefaultRequestTimeoutMs             = 30000
	DefaultConnectTimeoutMs             = 5000

	DefaultProbeIntervalMs          = 10000
	DefaultProbeTimeoutMs           = 3000
	DefaultProbeUnhealthyThreshold  = 3
	DefaultProbeHealthyThreshold    = 2

	DefaultSlowStartDurationMs        = 30000
	DefaultSlowStartInitialWeight     = 0.1
	DefaultProbeMethod                = "GET"
)

// SlowStartConfig governs the weight ramp applied to an upstream that has
// just returned to HEALTHY.
type SlowStartConfig struct {
	Enabled             bool    `yaml:"enabled"`
	DurationMs          int     `yaml:"durationMs"`
	InitialWeightFactor float64 `yaml:"initialWeightFactor"`
}

// FailoverConfig is the resolved failover block of one route.
type FailoverConfig struct {
	Enabled                      bool            `yaml:"enabled"`
	ConsecutiveFailuresThreshold int             `yaml:"consecutiveFailuresThreshold"`
	HealthyThreshold             int             `yaml:"healthyThreshold"`
	RecoveryIntervalMs           int             `yaml:"recoveryIntervalMs"`
	RecoveryTimeoutMs            int             `yaml:"recoveryTimeoutMs"`
	RequestTimeoutMs             int             `yaml:"requestTimeoutMs"`
	ConnectTimeoutMs             int             `yaml:"connectTimeoutMs"`
	RetryableStatusCodes         []int           `yaml:"retryableStatusCodes"`
	SlowStart                    SlowStartConfig `yaml:"slowStart"`
}

// HealthCheckConfig is the resolved healthCheck block of one route.
type HealthCheckConfig struct {
	Enabled            bool  `yaml:"enabled"`
	Path               string `yaml:"path"`
	Method             string `yaml:"method"`
	IntervalMs         int    `yaml:"intervalMs"`
	TimeoutMs          int    `yaml:"timeoutMs"`
	ExpectedStatus     []int  `yaml:"expectedStatus"`
	UnhealthyThreshold int    `yaml:"unhealthyThreshold"`
	HealthyThreshold   int    `yaml:"healthyThreshold"`
}

// ResolveFailoverConfig fills in defaults for any zero-valued field of raw.
func ResolveFailoverConfig(raw FailoverConfig) FailoverConfig {
	resolved := raw
	if resolved.ConsecutiveFailuresThreshold <= 0 {
		resolved.ConsecutiveFailuresThreshold = DefaultConsecutiveFailuresThreshold
	}
	if resolved.HealthyThreshold <= 0 {
		resolved.HealthyThreshold = DefaultHealthyThreshold
	}
	if resolved.RecoveryIntervalMs <= 0 {
		resolved.RecoveryIntervalMs = DefaultRecoveryIntervalMs
	}
	if resolved.RecoveryTimeoutMs <= 0 {
		resolved.RecoveryTimeoutMs = DefaultRecoveryTimeoutMs
	}
	if resolved.RequestTimeoutMs <= 0 {
		resolved.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if resolved.ConnectTimeoutMs <= 0 {
		resolved.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}
	if resolved.SlowStart.DurationMs <= 0 {
		resolved.SlowStart.DurationMs = DefaultSlowStartDurationMs
	}
	if resolved.SlowStart.InitialWeightFactor <= 0 {
		resolved.SlowStart.InitialWeightFactor = DefaultSlowStartInitialWeight
	}
	return resolved
}

// ResolveHealthCheckConfig fills in defaults for any zero-valued field of raw.
func ResolveHealthCheckConfig(raw HealthCheckConfig) HealthCheckConfig {
	resolved := raw
	if resolved.Method == "" {
		resolved.Method = DefaultProbeMethod
	}
	if resolved.IntervalMs <= 0 {
		resolved.IntervalMs = DefaultProbeIntervalMs
	}
	if resolved.TimeoutMs <= 0 {
		resolved.TimeoutMs = DefaultProbeTimeoutMs
	}
	if resolved.UnhealthyThreshold <= 0 {
		resolved.UnhealthyThreshold = DefaultProbeUnhealthyThreshold
	}
	if resolved.HealthyThreshold <= 0 {
		resolved.HealthyThreshold = DefaultProbeHealthyThreshold
	}
	if len(resolved.ExpectedStatus) == 0 {
		resolved.ExpectedStatus = []int{200}
	}
	return resolved
}

// IsRetryableStatus reports whether status is in the route's configured
// retryable set, or is any 5xx. No 5xx status can be excluded from the
// retryable set.
func (f FailoverConfig) IsRetryableStatus(status int) bool {
	for _, s := range f.RetryableStatusCodes {
		if s == status {
			return true
		}
	}
	return status >= 500 && status <= 599
}
