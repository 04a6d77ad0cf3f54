package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// CachePath is the browser cache directory to scan (Blockfile or Simple Cache)
	CachePath string `yaml:"cache_path"`

	// OutDir is where recovered media is written
	OutDir string `yaml:"out_dir"`

	// FFmpegPath is the path to the ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// OrganizeByType writes recovered files into out_dir/<category>/ subfolders
	OrganizeByType bool `yaml:"organize_by_type"`

	// ConvertWebmToMp4 re-encodes reassembled webm_mkv resources to MP4 (default true)
	ConvertWebmToMp4 bool `yaml:"convert_webm_to_mp4"`

	// ConcatenateVideos joins all successfully recovered videos into one file
	ConcatenateVideos bool `yaml:"concatenate_videos"`

	// ConvertGifToMp4 additionally re-encodes recovered GIFs to MP4
	ConvertGifToMp4 bool `yaml:"convert_gif_to_mp4"`

	// GenerateThumbnails produces a sibling _thumb.jpg for each recovered video
	GenerateThumbnails bool `yaml:"generate_thumbnails"`

	// DBPath is where the thumbnail result cache's SQLite database lives
	DBPath string `yaml:"db_path"`

	// LogLevel controls logging verbosity: debug, info, warn, error (default: info)
	LogLevel string `yaml:"log_level"`

	// ListenAddr is the HTTP API bind address (default: "127.0.0.1:8765")
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		CachePath:          "",
		OutDir:             "./recovered",
		FFmpegPath:         "ffmpeg",
		OrganizeByType:     true,
		ConvertWebmToMp4:   true,
		ConcatenateVideos:  false,
		ConvertGifToMp4:    false,
		GenerateThumbnails: true,
		DBPath:             "./cachephoenix/thumbs.db",
		LogLevel:           "info",
		ListenAddr:         "127.0.0.1:8765",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - create one with defaults
			if saveErr := cfg.Save(path); saveErr != nil {
				fmt.Printf("Warning: Could not create config file: %v\n", saveErr)
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply defaults for empty values
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.OutDir == "" {
		cfg.OutDir = "./recovered"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./cachephoenix/thumbs.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8765"
	}

	return cfg, nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// OutputSubdir returns the directory a resource of the given category should
// be written into, honoring OrganizeByType.
func (c *Config) OutputSubdir(category string) string {
	if !c.OrganizeByType {
		return c.OutDir
	}
	return filepath.Join(c.OutDir, category)
}
