package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/semmidev/archivist/internal/domain"
)

const envPrefix = "ARCHIVIST"

type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Backup        BackupConfig       `mapstructure:"backup"`
	Connections   []ConnectionConfig `mapstructure:"connections"`
	UploadTargets []UploadTarget     `mapstructure:"upload_targets"`
	Schedule      ScheduleConfig     `mapstructure:"schedule"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type BackupConfig struct {
	Directory   string                     `mapstructure:"directory"`
	FileName    string                     `mapstructure:"file_name"`
	Compression string                     `mapstructure:"compression"`
	Directories map[string]DirectoryConfig `mapstructure:"directories"`
	SkipFiles   []string                   `mapstructure:"skip_files"`
	Databases   []string                   `mapstructure:"databases"`
	// ExpireTime is the retention window in seconds.
	ExpireTime int64 `mapstructure:"expire_time"`
}

// DirectoryConfig is written either as a plain path or as {path, pattern}.
type DirectoryConfig struct {
	Path    string `mapstructure:"path"`
	Pattern string `mapstructure:"pattern"`
}

type ConnectionConfig struct {
	ID       string `mapstructure:"id"`
	Engine   string `mapstructure:"engine"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	DSN      string `mapstructure:"dsn"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`
	Schema  string `mapstructure:"schema"`
}

type UploadTarget struct {
	Name    string `mapstructure:"name"`
	Type    string `mapstructure:"type"`
	Enabled bool   `mapstructure:"enabled"`

	// Local mirror
	Path string `mapstructure:"path"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	FolderID        string `mapstructure:"folder_id"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`

	// Telegram
	BotToken   string `mapstructure:"bot_token"`
	ChatID     int64  `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`
}

// Label names the target in logs and metrics.
func (t UploadTarget) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Type
}

// ScheduleConfig holds cron expressions with a leading seconds field.
type ScheduleConfig struct {
	Backup  string `mapstructure:"backup"`
	Cleanup string `mapstructure:"cleanup"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "archivist")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("backup.file_name", "backup")
	v.SetDefault("backup.compression", string(domain.CompressionNone))
	v.SetDefault("backup.databases", []string{"db"})
	v.SetDefault("backup.expire_time", int64(domain.MinExpireTime/time.Second))
	v.SetDefault("schedule.backup", "0 0 2 * * *")
	v.SetDefault("schedule.cleanup", "0 30 3 * * *")
	v.SetDefault("metrics.address", ":9090")
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		directoryHook,
	)
}

func directoryHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(DirectoryConfig{}) || from.Kind() != reflect.String {
		return data, nil
	}
	return DirectoryConfig{Path: data.(string)}, nil
}

// Validate checks the structure of the file. Semantic checks of the backup
// set are left to domain.BackupSet.Validate.
func (c *Config) Validate() error {
	if c.Backup.Directory == "" {
		return fmt.Errorf("backup.directory is required")
	}

	ids := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if conn.ID == "" {
			return fmt.Errorf("connections[%d]: id is required", i)
		}
		if ids[conn.ID] {
			return fmt.Errorf("connections[%d]: id %q is already used", i, conn.ID)
		}
		if conn.Engine == "" {
			return fmt.Errorf("connections[%d]: engine is required", i)
		}
		ids[conn.ID] = true
	}

	for i, target := range c.UploadTargets {
		if err := target.validate(); err != nil {
			return fmt.Errorf("upload_targets[%d]: %w", i, err)
		}
	}

	return nil
}

func (t UploadTarget) validate() error {
	if !t.Enabled {
		return nil
	}
	switch t.Type {
	case "local":
		if t.Path == "" {
			return fmt.Errorf("path is required")
		}
	case "s3":
		if t.Bucket == "" || t.Region == "" {
			return fmt.Errorf("bucket and region are required")
		}
	case "gdrive":
		if t.CredentialsFile == "" || t.FolderID == "" {
			return fmt.Errorf("credentials_file and folder_id are required")
		}
	case "telegram":
		if t.BotToken == "" || t.ChatID == 0 {
			return fmt.Errorf("bot_token and chat_id are required")
		}
	default:
		return fmt.Errorf("unknown type %q", t.Type)
	}
	return nil
}

// BackupSet converts the backup section into the domain value.
func (c *Config) BackupSet() domain.BackupSet {
	set := domain.BackupSet{
		Directory:   c.Backup.Directory,
		FileName:    c.Backup.FileName,
		Compression: domain.Compression(strings.ToLower(c.Backup.Compression)),
		SkipFiles:   c.Backup.SkipFiles,
		Databases:   c.Backup.Databases,
		ExpireTime:  time.Duration(c.Backup.ExpireTime) * time.Second,
	}
	for name, dir := range c.Backup.Directories {
		set.Directories = append(set.Directories, domain.DirectoryMapping{
			Name:      name,
			Directory: domain.Directory{Path: dir.Path, Pattern: dir.Pattern},
		})
	}
	set.SortDirectories()
	return set
}

// ConnectionDescriptors returns the descriptors of every configured database.
func (c *Config) ConnectionDescriptors() []domain.Connection {
	conns := make([]domain.Connection, 0, len(c.Connections))
	for _, conn := range c.Connections {
		conns = append(conns, domain.Connection{
			ID:       conn.ID,
			Engine:   domain.Engine(strings.ToLower(conn.Engine)),
			Host:     conn.Host,
			Port:     conn.Port,
			Username: conn.Username,
			Password: conn.Password,
			Database: conn.Database,
			DSN:      conn.DSN,
			SSLMode:  conn.SSLMode,
			Schema:   conn.Schema,
		})
	}
	return conns
}

func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}
