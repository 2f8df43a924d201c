package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		Name         string `yaml:"name"`
		MaxOpenConns int    `yaml:"maxOpenConns"`
		MaxIdleConns int    `yaml:"maxIdleConns"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		QueueKey string `yaml:"queueKey"`
	} `yaml:"redis"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Analyzer struct {
		URL            string `yaml:"url"`
		APIKey         string `yaml:"apiKey"`
		CallbackBase   string `yaml:"callbackBase"`
		TimeoutSeconds int    `yaml:"timeoutSeconds"`
		MaxAttempts    int    `yaml:"maxAttempts"`
		BackoffSeconds int    `yaml:"backoffSeconds"`
		Workers        int    `yaml:"workers"`
	} `yaml:"analyzer"`

	Auth struct {
		// map user id -> API key
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	Upload struct {
		MaxSizeBytes int64  `yaml:"maxSizeBytes"`
		AllowedTypes string `yaml:"allowedTypes"` // comma-separated MIME types
	} `yaml:"upload"`

	CORS struct {
		Origins string `yaml:"origins"` // comma-separated
	} `yaml:"cors"`

	MigrationsPath string `yaml:"migrationsPath"`
}

// Load baca file config.yaml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Analyzer.TimeoutSeconds <= 0 {
		c.Analyzer.TimeoutSeconds = 30
	}
	if c.Analyzer.MaxAttempts <= 0 {
		c.Analyzer.MaxAttempts = 3
	}
	if c.Analyzer.BackoffSeconds <= 0 {
		c.Analyzer.BackoffSeconds = 60
	}
	if c.Analyzer.Workers <= 0 {
		c.Analyzer.Workers = 4
	}
	if c.Upload.MaxSizeBytes <= 0 {
		c.Upload.MaxSizeBytes = 52428800 // 50 MB
	}
	if c.Upload.AllowedTypes == "" {
		c.Upload.AllowedTypes = "application/pdf,application/vnd.openxmlformats-officedocument.wordprocessingml.document,image/jpeg,image/png"
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = "migrations"
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&multiStatements=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// CallbackURL is handed verbatim to the analyzer.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.Analyzer.CallbackBase, "/") + "/api/v1/nlp/callback"
}

func (c *Config) AnalyzerTimeout() time.Duration {
	return time.Duration(c.Analyzer.TimeoutSeconds) * time.Second
}

func (c *Config) AnalyzerBackoff() time.Duration {
	return time.Duration(c.Analyzer.BackoffSeconds) * time.Second
}

func (c *Config) AllowedTypes() []string {
	return splitTrim(c.Upload.AllowedTypes)
}

func (c *Config) CORSOrigins() []string {
	return splitTrim(c.CORS.Origins)
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
