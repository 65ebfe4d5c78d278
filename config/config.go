package config

import (
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Token     string  `toml:"token" mapstructure:"token"`
	Host      string  `toml:"host" mapstructure:"host"`
	Port      string  `toml:"port" mapstructure:"port"`
	Threshold float32 `toml:"threshold" mapstructure:"threshold"`
	Libonnx   string  `toml:"libonnx" mapstructure:"libonnx"`

	ModelRepo       string `toml:"model_repo" mapstructure:"model_repo"`
	ModelRevision   string `toml:"model_revision" mapstructure:"model_revision"`
	ModelDir        string `toml:"model_dir" mapstructure:"model_dir"`
	VisionModelFile string `toml:"vision_model_file" mapstructure:"vision_model_file"`
	TextModelFile   string `toml:"text_model_file" mapstructure:"text_model_file"`
	TokenizerFile   string `toml:"tokenizer_file" mapstructure:"tokenizer_file"`
	HFToken         string `toml:"hf_token" mapstructure:"hf_token"`

	ImageSize      int `toml:"image_size" mapstructure:"image_size"`
	EmbeddingDim   int `toml:"embedding_dim" mapstructure:"embedding_dim"`
	MaxTokens      int `toml:"max_tokens" mapstructure:"max_tokens"`
	IntraOpThreads int `toml:"intra_op_threads" mapstructure:"intra_op_threads"`

	SearchURL           string  `toml:"search_url" mapstructure:"search_url"`
	SearchRate          float64 `toml:"search_rate" mapstructure:"search_rate"`
	DownloadConcurrency int     `toml:"download_concurrency" mapstructure:"download_concurrency"`
	DownloadRate        float64 `toml:"download_rate" mapstructure:"download_rate"`
	Overfetch           int     `toml:"overfetch" mapstructure:"overfetch"`
	MaxImageBytes       int64   `toml:"max_image_bytes" mapstructure:"max_image_bytes"`
	TopicTimeoutSecs    int     `toml:"topic_timeout_secs" mapstructure:"topic_timeout_secs"`

	NSamples int    `toml:"nsamples" mapstructure:"nsamples"`
	Dir      string `toml:"dir" mapstructure:"dir"`
	Workers  int    `toml:"workers" mapstructure:"workers"`
}

// Default returns the built-in configuration used when no config file exists.
func Default() Config {
	return Config{
		Token:     "",
		Host:      "0.0.0.0",
		Port:      "8000",
		Threshold: 0.2,

		ModelRepo:       "Xenova/clip-vit-base-patch32",
		ModelRevision:   "main",
		ModelDir:        "models",
		VisionModelFile: "onnx/vision_model.onnx",
		TextModelFile:   "onnx/text_model.onnx",
		TokenizerFile:   "tokenizer.json",

		ImageSize:    224,
		EmbeddingDim: 512,
		MaxTokens:    77,

		SearchURL:           "http://localhost:8888",
		SearchRate:          2,
		DownloadConcurrency: 8,
		DownloadRate:        10,
		Overfetch:           3,
		MaxImageBytes:       20 << 20,
		TopicTimeoutSecs:    300,

		NSamples: 20,
		Dir:      "images",
		Workers:  4,
	}
}

var (
	cfg      Config
	loadOnce sync.Once
)

func C() Config {
	loadOnce.Do(func() {
		path := os.Getenv("TINYDATA_CONFIG")
		if path == "" {
			path = "config.toml"
		}
		c, err := Load(path)
		if err != nil {
			panic(err)
		}
		cfg = c
	})
	return cfg
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	c := Default()
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := toml.Unmarshal(data, &c); err != nil {
			return c, err
		}
	}
	applyEnv(&c)
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("HF_TOKEN"); v != "" && c.HFToken == "" {
		c.HFToken = v
	}
	if v := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); v != "" && c.Libonnx == "" {
		c.Libonnx = v
	}
	if v := os.Getenv("TINYDATA_TOKEN"); v != "" && c.Token == "" {
		c.Token = v
	}
}
