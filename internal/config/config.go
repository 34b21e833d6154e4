package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"courieropt/internal/opt"
)

// Config is the service configuration: defaults, then the YAML file, then
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Solver   SolverConfig   `yaml:"solver"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port              string        `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL     string `yaml:"url"`
	Migrate bool   `yaml:"migrate"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type SolverConfig struct {
	AssignmentTimeLimit time.Duration `yaml:"assignment_time_limit"`
	RouteTimeLimit      time.Duration `yaml:"route_time_limit"`
	Acceptor            string        `yaml:"acceptor"` // late_acceptance, simulated_annealing, hill_climbing
	LateAcceptanceSize  int           `yaml:"late_acceptance_size"`
	StartTemperature    float64       `yaml:"start_temperature"`
	Cooling             float64       `yaml:"cooling"`
	SampleSize          int           `yaml:"sample_size"`
	IterationLimit      int           `yaml:"iteration_limit"`
	UnimprovedStepLimit int           `yaml:"unimproved_step_limit"`
	Seed                int64         `yaml:"seed"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	Duplicate           string        `yaml:"duplicate"` // join, reject
	AllowUnassigned     bool          `yaml:"allow_unassigned"`
}

type DispatchConfig struct {
	DefaultMaxCapacity int     `yaml:"default_max_capacity"`
	PrepMinutes        float64 `yaml:"prep_minutes"`
	SpeedKmh           float64 `yaml:"speed_kmh"`
	TrafficFactor      float64 `yaml:"traffic_factor"`
	LocationRate       float64 `yaml:"location_rate"` // updates per second per partner
	LocationBurst      int     `yaml:"location_burst"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// MinRouteTimeLimit is the shortest routing budget accepted.
const MinRouteTimeLimit = 200 * time.Millisecond

func Default() Config {
	return Config{
		Server: ServerConfig{Port: "8080", ReadHeaderTimeout: 5 * time.Second, ShutdownTimeout: 10 * time.Second},
		Solver: SolverConfig{
			AssignmentTimeLimit: 2 * time.Second,
			RouteTimeLimit:      2 * time.Second,
			Acceptor:            string(opt.AcceptLateAcceptance),
			LateAcceptanceSize:  opt.DefaultLateAcceptanceSize,
			StartTemperature:    opt.DefaultStartTemperature,
			Cooling:             opt.DefaultCooling,
			SampleSize:          opt.DefaultSampleSize,
			Workers:             4,
			QueueSize:           64,
			Duplicate:           "join",
		},
		Dispatch: DispatchConfig{
			DefaultMaxCapacity: 3,
			PrepMinutes:        15,
			SpeedKmh:           18,
			TrafficFactor:      1.2,
			LocationRate:       1,
			LocationBurst:      5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .env files (missing ones are skipped), then the YAML file at
// path if non-empty, then environment overrides, and validates the result.
func Load(path string, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("SOLVER_ACCEPTOR", &c.Solver.Acceptor)
	str("SOLVER_DUPLICATE_POLICY", &c.Solver.Duplicate)

	if v := os.Getenv("DB_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DB_MIGRATE: %w", err)
		}
		c.Database.Migrate = b
	}
	for key, dst := range map[string]*time.Duration{
		"SOLVER_ASSIGNMENT_TIME_LIMIT": &c.Solver.AssignmentTimeLimit,
		"SOLVER_ROUTE_TIME_LIMIT":      &c.Solver.RouteTimeLimit,
	} {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*int{
		"SOLVER_WORKERS":               &c.Solver.Workers,
		"DISPATCH_DEFAULT_MAX_CAPACITY": &c.Dispatch.DefaultMaxCapacity,
	} {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate rejects settings the solver or dispatcher cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := opt.ParseAcceptorKind(c.Solver.Acceptor); err != nil {
		errs = append(errs, err)
	}
	if _, err := opt.ParseDuplicatePolicy(c.Solver.Duplicate); err != nil {
		errs = append(errs, err)
	}
	if c.Solver.AssignmentTimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("solver.assignment_time_limit must be > 0"))
	}
	if c.Solver.RouteTimeLimit < MinRouteTimeLimit {
		errs = append(errs, fmt.Errorf("solver.route_time_limit must be >= %s", MinRouteTimeLimit))
	}
	if c.Solver.Workers <= 0 {
		errs = append(errs, fmt.Errorf("solver.workers must be > 0"))
	}
	if c.Dispatch.DefaultMaxCapacity <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.default_max_capacity must be > 0"))
	}
	if c.Dispatch.SpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.speed_kmh must be > 0"))
	}
	if c.Dispatch.LocationRate <= 0 || c.Dispatch.LocationBurst <= 0 {
		errs = append(errs, fmt.Errorf("dispatch.location_rate and location_burst must be > 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// OptConfig turns the solver settings into a driver config with the given budget.
func (s SolverConfig) OptConfig(limit time.Duration) opt.Config {
	kind, _ := opt.ParseAcceptorKind(s.Acceptor)
	return opt.Config{
		TimeLimit:           limit,
		IterationLimit:      s.IterationLimit,
		UnimprovedStepLimit: s.UnimprovedStepLimit,
		SampleSize:          s.SampleSize,
		Acceptor:            kind,
		LateAcceptanceSize:  s.LateAcceptanceSize,
		StartTemperature:    s.StartTemperature,
		Cooling:             s.Cooling,
		Seed:                s.Seed,
	}
}

// DuplicatePolicy parses the configured duplicate policy.
func (s SolverConfig) DuplicatePolicy() opt.DuplicatePolicy {
	p, _ := opt.ParseDuplicatePolicy(s.Duplicate)
	return p
}
