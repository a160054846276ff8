package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultDatabasePath = "library.db"
	DefaultImagesDir    = "library_images"
)

type (
	Config struct {
		App
		Database
		Images
		Auth
		Seed
		Loans
	}

	App struct {
		Env      string // development, production
		LogLevel string
	}
	Database struct {
		Driver string // sqlite3, postgres or pgx
		Path   string // SQLite file, used when Driver is sqlite3
		DSN    string // Postgres connection string
	}
	Images struct {
		Dir string
	}
	Auth struct {
		BcryptCost int
	}
	Seed struct {
		DemoUsers bool // admin/manager/client accounts on first start
	}
	Loans struct {
		DefaultDays int // due date offset used when none is given
	}
)

// NewConfig reads configuration from the environment, an optional .env file
// in the working directory, and the config file at path when path is not empty.
func NewConfig(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_driver", "sqlite3")
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("database_dsn", "")
	v.SetDefault("images_dir", DefaultImagesDir)
	v.SetDefault("auth_bcrypt_cost", 10)
	v.SetDefault("seed_demo_users", true)
	v.SetDefault("loan_default_days", 14)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		App: App{
			Env:      v.GetString("APP_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: Database{
			Driver: v.GetString("DATABASE_DRIVER"),
			Path:   v.GetString("DATABASE_PATH"),
			DSN:    v.GetString("DATABASE_DSN"),
		},
		Images: Images{
			Dir: v.GetString("IMAGES_DIR"),
		},
		Auth: Auth{
			BcryptCost: v.GetInt("AUTH_BCRYPT_COST"),
		},
		Seed: Seed{
			DemoUsers: v.GetBool("SEED_DEMO_USERS"),
		},
		Loans: Loans{
			DefaultDays: v.GetInt("LOAN_DEFAULT_DAYS"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite3 driver")
		}
	case "postgres", "pgx":
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for the %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Loans.DefaultDays < 1 {
		return fmt.Errorf("LOAN_DEFAULT_DAYS must be at least 1")
	}
	return nil
}

// DataSource returns the driver-specific connection string.
func (d Database) DataSource() string {
	if d.Driver == "sqlite3" {
		return d.Path
	}
	return d.DSN
}
