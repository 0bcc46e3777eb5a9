package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/715d/staticinit/pkg/bytecode"
)

const (
	configBaseName   = ".staticinit"
	configFolderPath = "."

	envPrefix = "STATICINIT"

	verboseKey           = "verbose"
	jsonKey              = "json"
	profileKey           = "profile"
	allKey               = "all"
	featuresKey          = "features"
	strictKey            = "strict"
	maxPassesKey         = "max_passes"
	parallelKey          = "parallel"
	excludeKey           = "exclude"
	typesKey             = "types"
	pointsKey            = "points"
	methodsKey           = "methods"
	failOnDiagnosticsKey = "fail_on_diagnostics"
	deferredKey          = "capture.deferred_interfaces"
	containersKey        = "capture.container_prefixes"
	immediateKey         = "capture.immediate_calls"

	logFilenameKey   = "log.filename"
	logMaxSizeKey    = "log.max_size"
	logMaxBackupsKey = "log.max_backups"
	logMaxAgeKey     = "log.max_age"
	logCompressKey   = "log.compress"

	defaultLogMaxSize    = 10
	defaultLogMaxBackups = 3
	defaultLogMaxAge     = 28
	defaultLogCompress   = true
)

// Config holds all configuration options for one run, merged from flags,
// environment and the config file.
type Config struct {
	Paths             []string // class directories and jars to analyze
	Verbose           bool     // enables debug logging
	JSON              bool     // enables JSON output format
	Profile           bool     // enables CPU and memory profiling
	All               bool     // lists methods without suppressed points too
	Features          []string // feature toggles such as -auto_static_initializer
	Strict            bool     // panic on contract violations instead of failing open
	MaxPasses         int      // reachability pass budget, 0 for the default
	Parallel          int      // concurrent type analyses, 0 for NumCPU
	Exclude           []string // type exclusion rules
	Types             []string // type name prefixes to analyze
	Points            string   // YAML file of mutation points
	Methods           []string // methods to generate points in, by name or name+desc
	FailOnDiagnostics bool     // exit 1 when any type failed open
	Capture           bytecode.CapturePolicy
}

func initConfig() {
	viper.SetConfigName(configBaseName)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configFolderPath)
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	defaults := bytecode.DefaultCapturePolicy()
	viper.SetDefault(deferredKey, defaults.DeferredInterfaces)
	viper.SetDefault(containersKey, defaults.ContainerPrefixes)
	viper.SetDefault(immediateKey, defaults.ImmediateCalls)
	viper.SetDefault(logMaxSizeKey, defaultLogMaxSize)
	viper.SetDefault(logMaxBackupsKey, defaultLogMaxBackups)
	viper.SetDefault(logMaxAgeKey, defaultLogMaxAge)
	viper.SetDefault(logCompressKey, defaultLogCompress)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
		}
	}
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

func loadConfig(args []string) Config {
	return Config{
		Paths:             args,
		Verbose:           viper.GetBool(verboseKey),
		JSON:              viper.GetBool(jsonKey),
		Profile:           viper.GetBool(profileKey),
		All:               viper.GetBool(allKey),
		Features:          viper.GetStringSlice(featuresKey),
		Strict:            viper.GetBool(strictKey),
		MaxPasses:         viper.GetInt(maxPassesKey),
		Parallel:          viper.GetInt(parallelKey),
		Exclude:           viper.GetStringSlice(excludeKey),
		Types:             viper.GetStringSlice(typesKey),
		Points:            viper.GetString(pointsKey),
		Methods:           viper.GetStringSlice(methodsKey),
		FailOnDiagnostics: viper.GetBool(failOnDiagnosticsKey),
		Capture: bytecode.CapturePolicy{
			DeferredInterfaces: internalNames(viper.GetStringSlice(deferredKey)),
			ContainerPrefixes:  internalNames(viper.GetStringSlice(containersKey)),
			ImmediateCalls:     internalNames(viper.GetStringSlice(immediateKey)),
		},
	}
}

func internalNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(bytecode.TypeNameOf(n))
	}
	return out
}

// configureLogger installs the global slog logger. Logs are discarded unless
// verbose is set or a log file is configured; a log file is rotated by
// lumberjack and takes precedence over stderr.
func configureLogger(stderr io.Writer, verbose, jsonFormat bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var w io.Writer
	switch path := strings.TrimSpace(viper.GetString(logFilenameKey)); {
	case path != "":
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    viper.GetInt(logMaxSizeKey),
			MaxBackups: viper.GetInt(logMaxBackupsKey),
			MaxAge:     viper.GetInt(logMaxAgeKey),
			Compress:   viper.GetBool(logCompressKey),
		}
	case verbose:
		w = stderr
	default:
		slog.SetDefault(slog.New(slog.DiscardHandler))
		return
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}
