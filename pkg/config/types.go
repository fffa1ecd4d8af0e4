package config

import (
	"time"

	"github.com/farmops/pondsync/pkg/ponds"
	"github.com/farmops/pondsync/pkg/stores"
	"github.com/farmops/pondsync/pkg/telemetry"
)

// Config is the pondsync configuration file.
type Config struct {
	// FarmBot holds the remote API endpoint and account.
	FarmBot FarmBotConfig `yaml:"farmbot" json:"farmbot"`

	// Server configures the local management surface.
	Server ServerConfig `yaml:"server" json:"server"`

	// Ponds configures naming, the aggregate sequence and new point defaults.
	Ponds PondsConfig `yaml:"ponds" json:"ponds"`

	// Sweep configures the background reconciliation sweep.
	Sweep SweepConfig `yaml:"sweep" json:"sweep"`

	// Journal configures the operation history database.
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Policy configures admission checks on pond operations.
	Policy PolicyConfig `yaml:"policy" json:"policy"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// FarmBotConfig identifies the FarmBot account to manage.
type FarmBotConfig struct {
	URL      string        `yaml:"url" json:"url" validate:"required,url"`
	Email    string        `yaml:"email" json:"email" validate:"required,email"`
	Password string        `yaml:"password" json:"-" validate:"required"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen" json:"listen" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`
}

// PondsConfig configures pond naming and the aggregate sequence.
type PondsConfig struct {
	TemplateName  string `yaml:"template_name" json:"template_name" validate:"required"`
	Pattern       string `yaml:"pattern" json:"pattern" validate:"required"`
	MeasureAction string `yaml:"measure_action" json:"measure_action" validate:"required"`

	// AggregateID pins the aggregate sequence. When zero it is found by
	// AggregateName.
	AggregateID   int64  `yaml:"aggregate_id" json:"aggregate_id" validate:"gte=0"`
	AggregateName string `yaml:"aggregate_name" json:"aggregate_name"`

	PointRadius float64 `yaml:"point_radius" json:"point_radius" validate:"gt=0"`
	PointColor  string  `yaml:"point_color" json:"point_color" validate:"required"`
}

// SweepConfig configures the background sweep.
type SweepConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Interval   time.Duration `yaml:"interval" json:"interval" validate:"required_if=Enabled true,gte=0"`
	FailFast   bool          `yaml:"fail_fast" json:"fail_fast"`
	RunOnStart bool          `yaml:"run_on_start" json:"run_on_start"`
}

// JournalConfig configures the operation journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig configures admission policies.
type PolicyConfig struct {
	Enabled            bool            `yaml:"enabled" json:"enabled"`
	TemplateProtection bool            `yaml:"template_protection" json:"template_protection"`
	BedBounds          BedBoundsConfig `yaml:"bed_bounds" json:"bed_bounds"`

	// Paths lists extra .rego files or directories to load.
	Paths []string `yaml:"paths" json:"paths,omitempty" validate:"dive,required"`
}

// BedBoundsConfig is the rectangle ponds must lie within.
type BedBoundsConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	MinX    float64 `yaml:"min_x" json:"min_x"`
	MaxX    float64 `yaml:"max_x" json:"max_x" validate:"gtefield=MinX"`
	MinY    float64 `yaml:"min_y" json:"min_y"`
	MaxY    float64 `yaml:"max_y" json:"max_y" validate:"gtefield=MinY"`
}

// Default returns the configuration used for every field the file and
// environment leave unset.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		FarmBot: FarmBotConfig{
			URL:     "https://my.farm.bot",
			Timeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8420",
			ShutdownTimeout: 10 * time.Second,
		},
		Ponds: PondsConfig{
			TemplateName:  ponds.DefaultTemplateName,
			Pattern:       ponds.DefaultPondPattern,
			MeasureAction: ponds.DefaultMeasureAction,
			AggregateName: ponds.DefaultAggregateName,
			PointRadius:   ponds.DefaultPointRadius,
			PointColor:    ponds.DefaultPointColor,
		},
		Sweep: SweepConfig{
			Enabled:    true,
			Interval:   ponds.DefaultSweepInterval,
			RunOnStart: true,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "pondsync.db",
		},
		Policy: PolicyConfig{
			Enabled:            true,
			TemplateProtection: true,
		},
		Telemetry: *tel,
	}
}

// Naming builds the pond naming rules.
func (c *Config) Naming() (ponds.Naming, error) {
	return ponds.NewNaming(c.Ponds.TemplateName, c.Ponds.Pattern, c.Ponds.MeasureAction)
}

// ManagerConfig builds the pond manager configuration.
func (c *Config) ManagerConfig() (ponds.Config, error) {
	naming, err := c.Naming()
	if err != nil {
		return ponds.Config{}, err
	}
	return ponds.Config{
		Naming: naming,
		Aggregate: ponds.AggregateConfig{
			ID:   c.Ponds.AggregateID,
			Name: c.Ponds.AggregateName,
		},
		Point: ponds.PointDefaults{
			Radius: c.Ponds.PointRadius,
			Color:  c.Ponds.PointColor,
		},
	}, nil
}

// StoreConfig builds the journal store configuration.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{Path: c.Journal.Path}
}
