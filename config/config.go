package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const envPrefix = "PICKLEBALL"

// FacilityGroup is one upstream source: a reservation group of courts.
type FacilityGroup struct {
	ID        int    `mapstructure:"id" json:"id" validate:"required,gt=0"`
	Name      string `mapstructure:"name" json:"name" validate:"required"`
	StartTime string `mapstructure:"start_time" json:"startTime" validate:"required,clock"`
	EndTime   string `mapstructure:"end_time" json:"endTime" validate:"required,clock"`
	PDFLink   string `mapstructure:"pdf_link" json:"pdfLink,omitempty" validate:"omitempty,url"`
}

type ServerConfig struct {
	Port               int `mapstructure:"port" validate:"gt=0,lt=65536"`
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}

type UpstreamConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	SessionTTL        time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	CSRFToken         string        `mapstructure:"csrf_token"`
	SessionCookies    string        `mapstructure:"session_cookies"`
	BreakerFailures   uint32        `mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerTimeout    time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`
}

type BackfillConfig struct {
	DaysAhead            int           `mapstructure:"days_ahead" validate:"gte=0,lte=60"`
	SkipExisting         bool          `mapstructure:"skip_existing"`
	DelayBetweenRequests time.Duration `mapstructure:"delay_between_requests" validate:"gte=0"`
	DelayBetweenDates    time.Duration `mapstructure:"delay_between_dates" validate:"gte=0"`
	OnStartup            bool          `mapstructure:"on_startup"`
}

type SchedulerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron" validate:"required,cron"`
}

type HistoryConfig struct {
	// empty disables run history
	Path string `mapstructure:"path"`
}

type Config struct {
	Env            string          `mapstructure:"env" validate:"oneof=development production test"`
	LogLevel       string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	DataDir        string          `mapstructure:"data_dir" validate:"required"`
	Timezone       string          `mapstructure:"timezone" validate:"required,timezone"`
	Server         ServerConfig    `mapstructure:"server"`
	Upstream       UpstreamConfig  `mapstructure:"upstream"`
	Backfill       BackfillConfig  `mapstructure:"backfill"`
	Scheduler      SchedulerConfig `mapstructure:"scheduler"`
	History        HistoryConfig   `mapstructure:"history"`
	FacilityGroups []FacilityGroup `mapstructure:"facility_groups" validate:"required,min=1,dive"`
}

// DefaultFacilityGroups are the Mesa pickleball reservation groups.
func DefaultFacilityGroups() []FacilityGroup {
	return []FacilityGroup{
		{
			ID:        29,
			Name:      "Kleinman Park",
			StartTime: "09:00:00",
			EndTime:   "22:00:00",
			PDFLink:   "https://www.mesaaz.gov/files/assets/public/v/237/activities-culture/prcf/facilities/pickleball-public-court-calendars/kleinman-pickleball-court.pdf",
		},
		{
			ID:        33,
			Name:      "Gene Autry Park",
			StartTime: "09:00:00",
			EndTime:   "22:00:00",
		},
		{
			ID:        35,
			Name:      "Monterey Park",
			StartTime: "09:00:00",
			EndTime:   "22:00:00",
			PDFLink:   "https://www.mesaaz.gov/files/assets/public/v/244/activities-culture/prcf/facilities/pickleball-public-court-calendars/brady-pickleball-court.pdf",
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("timezone", "America/Los_Angeles")

	v.SetDefault("server.port", 3000)
	v.SetDefault("server.rate_limit_per_minute", 120)

	v.SetDefault("upstream.base_url", "https://anc.apm.activecommunities.com/mesaaz")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.requests_per_second", 2.0)
	v.SetDefault("upstream.session_ttl", 30*time.Minute)
	v.SetDefault("upstream.csrf_token", "")
	v.SetDefault("upstream.session_cookies", "")
	v.SetDefault("upstream.breaker_failures", 5)
	v.SetDefault("upstream.breaker_timeout", time.Minute)

	v.SetDefault("backfill.days_ahead", 3)
	v.SetDefault("backfill.skip_existing", true)
	v.SetDefault("backfill.delay_between_requests", 500*time.Millisecond)
	v.SetDefault("backfill.delay_between_dates", time.Second)
	v.SetDefault("backfill.on_startup", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 17 * * *")

	v.SetDefault("history.path", "")

	groups := []map[string]any{}
	for _, group := range DefaultFacilityGroups() {
		groups = append(groups, map[string]any{
			"id":         group.ID,
			"name":       group.Name,
			"start_time": group.StartTime,
			"end_time":   group.EndTime,
			"pdf_link":   group.PDFLink,
		})
	}
	v.SetDefault("facility_groups", groups)
}

// Load reads defaults, then config.yaml from the working directory or
// ./config (or the explicit path), then PICKLEBALL_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := Validator().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[int]struct{}{}
	for _, group := range c.FacilityGroups {
		if _, ok := seen[group.ID]; ok {
			return fmt.Errorf("invalid config: duplicate facility group %d", group.ID)
		}
		seen[group.ID] = struct{}{}
	}
	return nil
}

// Location resolves Timezone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether JSON logging and production defaults apply.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DefaultParkLinks maps facility group names to their PDF calendars.
func (c *Config) DefaultParkLinks() ([]string, map[string]string) {
	names := make([]string, 0, len(c.FacilityGroups))
	links := map[string]string{}
	for _, group := range c.FacilityGroups {
		names = append(names, group.Name)
		if group.PDFLink != "" {
			links[group.Name] = group.PDFLink
		}
	}
	return names, links
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the clock and cron tags
// registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			_, err := time.Parse("15:04:05", fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
			_, err := cron.ParseStandard(fl.Field().String())
			return err == nil
		})
	})
	return validate
}
