package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/submerge-go/internal/model"
	"gopkg.in/yaml.v3"
)

// Defaults mirror the historical config.txt behavior of this tool.
const (
	DefaultTimeout    = 5 * time.Second
	DefaultMaxRetry   = 2
	DefaultWorkers    = 10
	DefaultOutputFile = "subscription_all.txt"
)

// defaultSources is the built-in source list used when no config file is
// found or the file declares no sources at all.
var defaultSources = []string{
	"https://raw.githubusercontent.com/ebrasha/free-v2ray-public-list/refs/heads/main/V2Ray-Config-By-EbraSha.txt",
	"https://raw.githubusercontent.com/roosterkid/openproxylist/refs/heads/main/V2RAY_RAW.txt",
	"https://raw.githubusercontent.com/Awmiroosen/awmirx-v2ray/refs/heads/main/blob/main/v2-sub.txt",
	"https://raw.githubusercontent.com/Flikify/Free-Node/refs/heads/main/v2ray.txt",
	"https://raw.githubusercontent.com/ggborr/FREEE-VPN/refs/heads/main/8V2",
	"https://raw.githubusercontent.com/Rayan-Config/C-Sub/refs/heads/main/configs/proxy.txt",
	"https://raw.githubusercontent.com/xiaoji235/airport-free/refs/heads/main/v2ray.txt",
	"https://raw.githubusercontent.com/arshiacomplus/v2rayExtractor/refs/heads/main/mix/sub.html",
	"https://raw.githubusercontent.com/MahsaNetConfigTopic/config/refs/heads/main/xray_final.txt",
	"https://raw.githubusercontent.com/Mhdiqpzx/Mahdi-VIP/refs/heads/main/Mahdi-Vip.txt",
	"https://raw.githubusercontent.com/sinavm/SVM/refs/heads/main/subscriptions/xray/base64/vless",
	"https://raw.githubusercontent.com/Joker-funland/V2ray-configs/refs/heads/main/vless.txt",
	"https://raw.githubusercontent.com/itsyebekhe/PSG/refs/heads/main/subscriptions/xray/base64/vless",
	"https://raw.githubusercontent.com/SonzaiEkkusu/V2RayDumper/refs/heads/main/config.txt",
}

// searchPaths is the lookup order when no explicit --config path is given.
var searchPaths = []string{
	"config/config.yaml",
	"config.yaml",
	"config/config.txt",
	"config.txt",
}

var urlLine = regexp.MustCompile(`^https?://`)

// Config is the validated run configuration handed to the CLI.
type Config struct {
	Registry   model.Registry
	OutputFile string
}

type ParseError struct {
	AppError model.AppError
	Cause    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(path, code, message, hint string, cause error) *ParseError {
	return &ParseError{
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   "config",
			URL:     path,
			Hint:    hint,
		},
		Cause: cause,
	}
}

// yamlFile is the on-disk YAML shape. Field names follow the legacy
// config.txt keys, lowercased.
type yamlFile struct {
	Sources    []string `yaml:"sources"`
	Timeout    int      `yaml:"timeout"`
	MaxRetry   int      `yaml:"max_retry"`
	Workers    int      `yaml:"workers"`
	OutputFile string   `yaml:"output_all_file"`
}

// Load reads configuration from path. An empty path triggers the default
// search order; if nothing is found, the built-in defaults (including the
// default source list) are returned.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		log.Printf("加载配置文件: %s", p)
		return loadFile(p)
	}
	log.Printf("未找到配置文件，使用内置默认节点源")
	return defaults(), nil
}

func defaults() *Config {
	return &Config{
		Registry: model.Registry{
			Sources: append([]string(nil), defaultSources...),
			Params: model.Params{
				Timeout:  DefaultTimeout,
				MaxRetry: DefaultMaxRetry,
				Workers:  DefaultWorkers,
			},
		},
		OutputFile: DefaultOutputFile,
	}
}

func loadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newParseError(path, "CONFIG_OPEN_ERROR", "打开配置文件失败", "", err)
	}
	defer f.Close()

	var cfg *Config
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		cfg, err = parseYAML(path, f)
	} else {
		cfg, err = parseKV(path, f)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.Registry.Sources) == 0 {
		log.Printf("配置文件中没有有效的节点源，将使用内置默认节点源")
		cfg.Registry.Sources = append([]string(nil), defaultSources...)
	}
	if err := validate(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseYAML(path string, r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw yamlFile
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return defaults(), nil
		}
		return nil, newParseError(path, "CONFIG_PARSE_ERROR", "配置文件不是合法 YAML", "", err)
	}

	cfg := defaults()
	if len(raw.Sources) > 0 {
		cfg.Registry.Sources = raw.Sources
	} else {
		cfg.Registry.Sources = nil
	}
	if raw.Timeout != 0 {
		cfg.Registry.Params.Timeout = time.Duration(raw.Timeout) * time.Second
	}
	if raw.MaxRetry != 0 {
		cfg.Registry.Params.MaxRetry = raw.MaxRetry
	}
	if raw.Workers != 0 {
		cfg.Registry.Params.Workers = raw.Workers
	}
	if raw.OutputFile != "" {
		cfg.OutputFile = raw.OutputFile
	}
	return cfg, nil
}

// parseKV reads the legacy config.txt format: "KEY=value" lines, repeatable
// "SOURCES=" entries, bare http(s) URLs, "#" comments and blank lines.
func parseKV(path string, r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, newParseError(path, "CONFIG_OPEN_ERROR", "读取配置文件失败", "", err)
	}

	cfg := defaults()
	cfg.Registry.Sources = nil

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, hasEq := strings.Cut(line, "=")
		if !hasEq {
			if urlLine.MatchString(line) {
				cfg.Registry.Sources = append(cfg.Registry.Sources, line)
			}
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "SOURCES":
			if value != "" {
				cfg.Registry.Sources = append(cfg.Registry.Sources, value)
			}
		case "TIMEOUT":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Registry.Params.Timeout = time.Duration(n) * time.Second
			} else {
				log.Printf("配置项 TIMEOUT 值无效，使用默认值")
			}
		case "MAX_RETRY":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Registry.Params.MaxRetry = n
			} else {
				log.Printf("配置项 MAX_RETRY 值无效，使用默认值")
			}
		case "WORKERS":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.Registry.Params.Workers = n
			} else {
				log.Printf("配置项 WORKERS 值无效，使用默认值")
			}
		case "OUTPUT_ALL_FILE":
			if value != "" {
				cfg.OutputFile = value
			}
		default:
			// Unknown keys are ignored so old config files keep working.
		}
	}
	return cfg, nil
}

func validate(path string, cfg *Config) error {
	p := cfg.Registry.Params
	if p.Timeout <= 0 {
		return newParseError(path, "CONFIG_VALIDATE_ERROR", "TIMEOUT 必须大于 0", "", nil)
	}
	if p.MaxRetry < 0 {
		return newParseError(path, "CONFIG_VALIDATE_ERROR", "MAX_RETRY 不能为负数", "", nil)
	}
	if p.Workers <= 0 {
		return newParseError(path, "CONFIG_VALIDATE_ERROR", "WORKERS 必须大于 0", "", nil)
	}
	return nil
}
