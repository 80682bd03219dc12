package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kubetools-bot/schedule"
)

// TwitterCredentials holds the OAuth 1.0a keys for posting.
type TwitterCredentials struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Config holds all application configuration.
type Config struct {
	GitHubRepo   string `yaml:"github_repo"`
	GitHubBranch string `yaml:"github_branch"`
	ReadmePath   string `yaml:"readme_path"`
	GitHubToken  string `yaml:"github_token"`

	CheckIntervalHours int     `yaml:"check_interval_hours"`
	PublishTickMinutes int     `yaml:"publish_tick_minutes"`
	TweetsPerDay       int     `yaml:"tweets_per_day"`
	MinIntervalHours   int     `yaml:"min_interval_hours"` // 0 = derive from tweets_per_day
	PostingHours       []int   `yaml:"posting_hours"`      // empty = any hour
	MaxAttempts        int     `yaml:"max_attempts"`
	ShrinkThreshold    float64 `yaml:"shrink_threshold"`
	HashtagCount       int     `yaml:"hashtag_count"`
	EnrichStars        bool    `yaml:"enrich_stars"`

	Timezone   string `yaml:"timezone"`
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`
	ListenAddr string `yaml:"listen_addr"`

	Twitter TwitterCredentials `yaml:"twitter"`
}

// Defaults returns a Config with all default values set.
func Defaults() Config {
	return Config{
		GitHubRepo:         "collabnix/kubetools",
		GitHubBranch:       "master",
		ReadmePath:         "README.md",
		CheckIntervalHours: 2,
		PublishTickMinutes: 10,
		TweetsPerDay:       4,
		MaxAttempts:        3,
		ShrinkThreshold:    0.5,
		HashtagCount:       3,
		EnrichStars:        true,
		Timezone:           "UTC",
		DBPath:             "./kubetools-bot.db",
		LogLevel:           "info",
		ListenAddr:         ":8080",
	}
}

// Load reads a YAML config file and returns a validated Config. The
// KUBETOOLS_BOT_CONFIG and KUBETOOLS_BOT_DB environment variables override the
// config path and db path; TWITTER_API_KEY, TWITTER_API_SECRET,
// TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_TOKEN_SECRET override the
// credentials so they can stay out of the file.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("KUBETOOLS_BOT_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}

	if envDB := os.Getenv("KUBETOOLS_BOT_DB"); envDB != "" {
		cfg.DBPath = envDB
	}
	applyEnv(&cfg.Twitter.APIKey, "TWITTER_API_KEY")
	applyEnv(&cfg.Twitter.APISecret, "TWITTER_API_SECRET")
	applyEnv(&cfg.Twitter.AccessToken, "TWITTER_ACCESS_TOKEN")
	applyEnv(&cfg.Twitter.AccessTokenSecret, "TWITTER_ACCESS_TOKEN_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that required fields are present and values are valid.
func (c *Config) Validate() error {
	if c.GitHubRepo == "" {
		return fmt.Errorf("github_repo is required")
	}
	if c.Twitter.APIKey == "" || c.Twitter.APISecret == "" ||
		c.Twitter.AccessToken == "" || c.Twitter.AccessTokenSecret == "" {
		return fmt.Errorf("twitter credentials are required")
	}
	if c.TweetsPerDay < 1 {
		return fmt.Errorf("tweets_per_day must be >= 1, got %d", c.TweetsPerDay)
	}
	if c.CheckIntervalHours < 1 {
		return fmt.Errorf("check_interval_hours must be >= 1, got %d", c.CheckIntervalHours)
	}
	if c.PublishTickMinutes < 1 {
		return fmt.Errorf("publish_tick_minutes must be >= 1, got %d", c.PublishTickMinutes)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.ShrinkThreshold < 0 || c.ShrinkThreshold >= 1 {
		return fmt.Errorf("shrink_threshold must be in [0, 1), got %g", c.ShrinkThreshold)
	}
	for _, h := range c.PostingHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("posting hour %d out of range", h)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// MinInterval returns the configured spacing between publications, deriving it
// from the daily cap when unset.
func (c *Config) MinInterval() time.Duration {
	if c.MinIntervalHours > 0 {
		return time.Duration(c.MinIntervalHours) * time.Hour
	}
	return schedule.DeriveMinInterval(c.TweetsPerDay)
}
