package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/John-Robertt/submerge-go/internal/artifact"
	"github.com/John-Robertt/submerge-go/internal/config"
	"github.com/John-Robertt/submerge-go/internal/merge"
)

const envPrefix = "SUBMERGE_"

func main() {
	configPath := flag.String("config", "", "配置文件路径（留空则按默认顺序查找）")
	outputDir := flag.String("output", "subscriptions_output", "输出目录")
	logFile := flag.String("log-file", "submerge.log", "运行日志文件（留空则只输出到标准输出）")
	debug := flag.Bool("debug", false, "启用调试模式（日志包含代码位置）")
	flag.Parse()

	applyEnvOverrides(flag.CommandLine, os.Getenv)

	if *debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("打开日志文件失败，仅输出到标准输出: %v", err)
		} else {
			defer f.Close()
			log.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("=== submerge 节点订阅汇总工具启动 ===")
	log.Printf("输出目录: %s", *outputDir)

	if err := run(ctx, *configPath, *outputDir); err != nil {
		log.Printf("运行失败: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, outputDir string) error {
	start := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Printf("成功加载配置，共 %d 个节点源", len(cfg.Registry.Sources))

	engine := merge.NewEngine(cfg.Registry.Params)
	res, err := engine.Merge(ctx, cfg.Registry.Sources)
	if err != nil {
		return err
	}

	for _, sr := range res.PerSource {
		if sr.OK {
			log.Printf("节点源 %s: 提取 %d 个节点，新增 %d 个（尝试 %d 次）", sr.URL, sr.Extracted, sr.Added, sr.Attempts)
		} else {
			log.Printf("节点源 %s: 未获取到节点（尝试 %d 次）", sr.URL, sr.Attempts)
		}
	}

	if len(res.Nodes) == 0 {
		return &runError{msg: "未能获取任何节点，请检查网络连接或源地址是否有效"}
	}

	outPath := filepath.Join(outputDir, cfg.OutputFile)
	log.Printf("准备生成订阅文件: %s，包含 %d 个节点", outPath, len(res.Nodes))

	data := artifact.Encode(res.Nodes)
	if err := artifact.Write(outPath, data); err != nil {
		// Persistence failure does not undo a successful aggregation.
		log.Printf("写入文件失败: %v", err)
	} else if size, err := artifact.VerifySize(outPath); err != nil {
		log.Printf("订阅文件校验异常: %v", err)
	} else {
		log.Printf("订阅已生成: %s，大小: %d 字节", outPath, size)
	}

	for _, pc := range res.Protocols {
		log.Printf("协议 %s: %d 个节点", pc.Proto, pc.N)
	}
	log.Printf("=== submerge 节点订阅汇总工具运行完成 ===")
	log.Printf("所有节点处理完成，共生成 %d 个节点的订阅", len(res.Nodes))
	log.Printf("总耗时: %.2f 秒", time.Since(start).Seconds())
	return nil
}

type runError struct{ msg string }

func (e *runError) Error() string { return e.msg }

// envName maps a flag name to its environment variable, e.g.
// "log-file" -> "SUBMERGE_LOG_FILE".
func envName(flagName string) string {
	replacer := strings.NewReplacer("-", "_", ".", "_")
	return envPrefix + strings.ToUpper(replacer.Replace(flagName))
}

// applyEnvOverrides fills flags that were not set on the command line from
// the environment. Command-line values always win.
func applyEnvOverrides(fs *flag.FlagSet, getenv func(string) string) {
	set := make(map[string]struct{})
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	fs.VisitAll(func(f *flag.Flag) {
		if _, ok := set[f.Name]; ok {
			return
		}
		name := envName(f.Name)
		value := getenv(name)
		if value == "" {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			log.Printf("环境变量 %s 的值 %q 无法应用到 --%s: %v", name, value, f.Name, err)
		}
	})
}
