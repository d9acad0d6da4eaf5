package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"opsboard/internal/visibility"
)

// Config models opsboard.yml.
type Config struct {
	Board struct {
		ID       string `yaml:"id" json:"id" validate:"required"`
		Name     string `yaml:"name" json:"name"`
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"board" json:"board"`
	Points struct {
		Critical PointValues `yaml:"critical" json:"critical"`
		Standard PointValues `yaml:"standard" json:"standard"`
	} `yaml:"points" json:"points"`
	Visibility struct {
		Global          string `yaml:"global" json:"global" validate:"required,oneof=ALL ELEVATED_ONLY"`
		RestrictToOwner bool   `yaml:"restrict_to_owner" json:"restrict_to_owner"`
	} `yaml:"visibility" json:"visibility"`
	RBAC struct {
		DefaultRole string              `yaml:"default_role" json:"default_role" validate:"required"`
		Roles       map[string]RBACRole `yaml:"roles" json:"roles" validate:"required,min=1,dive"`
	} `yaml:"rbac" json:"rbac"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Webhooks  []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty" validate:"dive"`
}

// PointValues are the defaults applied to templates that do not set points.
type PointValues struct {
	OnComplete int `yaml:"on_complete" json:"on_complete"`
	OnSkip     int `yaml:"on_skip" json:"on_skip"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions" validate:"dive,required"`
	Elevated    bool     `yaml:"elevated" json:"elevated"`
}

// SchedulerConfig drives the month-end apply job run by `ob serve`.
type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Cron       string `yaml:"cron" json:"cron" validate:"required_if=Enabled true"`
	ApplyAhead bool   `yaml:"apply_ahead" json:"apply_ahead"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url" validate:"required,url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty" validate:"gte=0"`
}

const FileName = "opsboard.yml"

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("config.%s fails %s", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	if _, ok := c.RBAC.Roles[c.RBAC.DefaultRole]; !ok {
		return fmt.Errorf("config.rbac.default_role %s is not a defined role", c.RBAC.DefaultRole)
	}
	for roleID := range c.RBAC.Roles {
		if strings.TrimSpace(roleID) == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
	}
	if c.Board.Timezone != "" {
		if _, err := time.LoadLocation(c.Board.Timezone); err != nil {
			return fmt.Errorf("config.board.timezone: %w", err)
		}
	}
	if c.Scheduler.Cron != "" {
		if _, err := ParseCron(c.Scheduler.Cron); err != nil {
			return fmt.Errorf("config.scheduler.cron: %w", err)
		}
	}
	return nil
}

// Location returns the board timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c == nil || c.Board.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Board.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PointsFor returns the default point values for a template criticality.
func (c *Config) PointsFor(critical bool) PointValues {
	if critical {
		return c.Points.Critical
	}
	return c.Points.Standard
}

// IsElevated reports whether role is marked elevated.
func (c *Config) IsElevated(role string) bool {
	r, ok := c.RBAC.Roles[role]
	return ok && r.Elevated
}

// Permissions lists the permissions granted to role.
func (c *Config) Permissions(role string) []string {
	r, ok := c.RBAC.Roles[role]
	if !ok {
		return nil
	}
	out := make([]string, len(r.Permissions))
	copy(out, r.Permissions)
	return out
}

// GlobalPolicy returns the visibility policy for channel-less tasks.
func (c *Config) GlobalPolicy() visibility.GlobalPolicy {
	p, err := visibility.ParsePolicy(c.Visibility.Global)
	if err != nil {
		return visibility.GlobalElevatedOnly
	}
	return p
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(fs afero.Fs, workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ob config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(fs afero.Fs, workspace string) (*Config, error) {
	data, err := afero.ReadFile(fs, Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToYAML renders the config.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault(boardID string) string {
	return fmt.Sprintf(defaultTemplate, boardID)
}

// Default returns the default Config struct for a board. It panics if the
// built-in template does not decode.
func Default(boardID string) *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(boardID))).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("decode default config: %v", err))
	}
	return &cfg
}

const defaultTemplate = `board:
  id: %q
  name: Operations board
  timezone: UTC

points:
  critical:
    on_complete: 10
    on_skip: -5
  standard:
    on_complete: 5
    on_skip: -2

visibility:
  global: ALL
  restrict_to_owner: true

rbac:
  default_role: operator
  roles:
    admin:
      description: "Runs the board: templates, owners, months and points"
      elevated: true
      permissions:
        - owner.read
        - owner.write
        - channel.write
        - template.read
        - template.write
        - month.apply
        - instance.read
        - instance.create
        - instance.execute
        - points.read
        - points.grant
        - incident.read
        - incident.write
        - incident.resolve
        - events.read
        - apikey.write
    manager:
      description: "Supervises channels and may close any task"
      elevated: true
      permissions:
        - owner.read
        - template.read
        - template.write
        - month.apply
        - instance.read
        - instance.create
        - instance.execute
        - points.read
        - points.grant
        - incident.read
        - incident.write
        - incident.resolve
        - events.read
    operator:
      description: "Executes own tasks"
      elevated: false
      permissions:
        - owner.read
        - template.read
        - instance.read
        - instance.execute
        - points.read
        - incident.read
        - incident.write

scheduler:
  enabled: false
  cron: "0 6 * * *"
  apply_ahead: true
`
