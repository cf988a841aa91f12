// Package config provides configuration management for facelogin.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all facelogin configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Image       ImageConfig       `yaml:"image"`
	Auth        AuthConfig        `yaml:"auth"`
	Password    PasswordConfig    `yaml:"password"`
	Storage     StorageConfig     `yaml:"storage"`
	Blob        BlobConfig        `yaml:"blob"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     int    `yaml:"read_timeout"`
	WriteTimeout    int    `yaml:"write_timeout"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64  `yaml:"max_upload_bytes"`
}

// RecognitionConfig holds face detection and matching settings.
type RecognitionConfig struct {
	ModelPath string  `yaml:"model_path"`
	Detector  string  `yaml:"detector"`
	Jitters   int     `yaml:"jitters"`
	Tolerance float64 `yaml:"tolerance"`
}

// ImageConfig holds image normalization settings.
type ImageConfig struct {
	Orientation  string `yaml:"orientation"`
	MaxDimension int    `yaml:"max_dimension"`
	JPEGQuality  int    `yaml:"jpeg_quality"`
}

// AuthConfig holds workflow settings.
type AuthConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

// PasswordConfig holds password hashing settings.
type PasswordConfig struct {
	Algorithm  string `yaml:"algorithm"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// StorageConfig holds credential store settings.
type StorageConfig struct {
	Driver        string `yaml:"driver"`
	RedisURL      string `yaml:"redis_url"`
	RedisPoolSize int    `yaml:"redis_pool_size"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// BlobConfig holds reference image storage settings.
type BlobConfig struct {
	URL               string `yaml:"url"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	EncryptionKey     string `yaml:"encryption_key"` // empty derives a key from the machine
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facelogin")
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ReadTimeout:     15,
			WriteTimeout:    60,
			ShutdownTimeout: 30,
			MaxUploadBytes:  10 << 20,
		},
		Recognition: RecognitionConfig{
			ModelPath: filepath.Join(dataDir, "models"),
			Detector:  "hog",
			Jitters:   1,
			Tolerance: 0.6,
		},
		Image: ImageConfig{
			Orientation:  "exif",
			MaxDimension: 1600,
			JPEGQuality:  95,
		},
		Auth: AuthConfig{
			MaxConcurrent: 4,
		},
		Password: PasswordConfig{
			Algorithm:  "bcrypt",
			BcryptCost: 10,
		},
		Storage: StorageConfig{
			Driver:        "memory",
			RedisURL:      "redis://localhost:6379",
			RedisPoolSize: 10,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "facelogin",
		},
		Blob: BlobConfig{
			URL:               "file://" + filepath.Join(dataDir, "user_images"),
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   filepath.Join(dataDir, "facelogin.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facelogin/facelogin.yaml"); err == nil {
		return Load("/etc/facelogin/facelogin.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facelogin/facelogin.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be between 0 and 1, got %f", c.Recognition.Tolerance)
	}
	if c.Recognition.Detector != "hog" && c.Recognition.Detector != "cnn" {
		return fmt.Errorf("invalid detector: %s (must be hog or cnn)", c.Recognition.Detector)
	}
	if c.Recognition.Jitters < 0 {
		return fmt.Errorf("jitters must not be negative, got %d", c.Recognition.Jitters)
	}

	validOrientations := map[string]bool{"exif": true, "rotate90": true, "none": true}
	if !validOrientations[c.Image.Orientation] {
		return fmt.Errorf("invalid orientation policy: %s (must be exif, rotate90, or none)", c.Image.Orientation)
	}
	if c.Image.MaxDimension < 0 {
		return fmt.Errorf("max_dimension must not be negative, got %d", c.Image.MaxDimension)
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Image.JPEGQuality)
	}

	if c.Auth.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.Auth.MaxConcurrent)
	}

	if c.Password.Algorithm != "bcrypt" && c.Password.Algorithm != "argon2id" {
		return fmt.Errorf("invalid password algorithm: %s (must be bcrypt or argon2id)", c.Password.Algorithm)
	}

	validDrivers := map[string]bool{"memory": true, "redis": true, "mongo": true}
	if !validDrivers[c.Storage.Driver] {
		return fmt.Errorf("invalid storage driver: %s (must be memory, redis, or mongo)", c.Storage.Driver)
	}
	if c.Blob.URL == "" {
		return fmt.Errorf("blob url must be set")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Logging.File = ExpandPath(c.Logging.File)
	if dir, ok := c.BlobDir(); ok {
		var query string
		if i := strings.IndexByte(c.Blob.URL, '?'); i >= 0 {
			query = c.Blob.URL[i:]
		}
		c.Blob.URL = "file://" + ExpandPath(dir) + query
	}
}

// BlobDir returns the local directory behind a file:// blob URL.
func (c *Config) BlobDir() (string, bool) {
	if !strings.HasPrefix(c.Blob.URL, "file://") {
		return "", false
	}
	dir := strings.TrimPrefix(c.Blob.URL, "file://")
	if i := strings.IndexByte(dir, '?'); i >= 0 {
		dir = dir[:i]
	}
	return dir, true
}

// EnsureDirectories creates necessary directories for blobs, models and logging.
func (c *Config) EnsureDirectories() error {
	if dir, ok := c.BlobDir(); ok {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create blob directory: %w", err)
		}
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		logDir := filepath.Dir(c.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}
