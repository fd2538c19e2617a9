package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	MODE_SERVE = "serve"
	MODE_SWEEP = "sweep"
)

func main() {
	var configPath string
	var loggerType string
	var mode string
	var loop bool
	var waitBetweenLoops time.Duration

	flag.StringVar(&configPath, "config-path", "config.yaml", "Path to configuration file")
	flag.StringVar(&loggerType, "logger-type", "development", "Logger type (development or production)")
	flag.StringVar(&mode, "mode", MODE_SERVE, "Run mode (serve or sweep)")
	flag.BoolVar(&loop, "loop", false, "In sweep mode, sweep again after a wait period")
	flag.DurationVar(&waitBetweenLoops, "wait-between-loops", 6*time.Hour, "How long to wait between sweeps when looping")
	flag.Parse()

	if !slices.Contains([]string{"development", "production"}, loggerType) {
		panic(fmt.Errorf("%s is not a valid logger type", loggerType))
	}
	if !slices.Contains([]string{MODE_SERVE, MODE_SWEEP}, mode) {
		panic(fmt.Errorf("%s is not a valid mode", mode))
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if loggerType == "development" {
		logger, _ = zap.NewDevelopment()
	} else if loggerType == "production" {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirror, err := NewRegistryMirrorWithConfig(ctx, config, sugar)
	if err != nil {
		sugar.Errorf("error setting up mirror: %v", err)
		os.Exit(1)
	}

	switch mode {
	case MODE_SWEEP:
		err = RunSweeps(ctx, NewReconciliationSweep(mirror, sugar), sugar, loop, waitBetweenLoops)
	case MODE_SERVE:
		err = Serve(ctx, config, mirror, sugar)
	}
	if err != nil {
		sugar.Errorf("%s failed: %v", mode, err)
		os.Exit(1)
	}
}

func LoadConfig(configPath string) (config Configuration, err error) {
	var configRaw configRaw
	configData, err := os.ReadFile(configPath)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configData, &configRaw)
	if err != nil {
		return config, err
	}

	var storageType BlobStorageType
	switch x := strings.ToLower(configRaw.StorageType); x {
	case "s3":
		storageType = STORAGE_TYPE_S3
		if configRaw.S3Config.Bucket == "" {
			return config, fmt.Errorf("s3_config.bucket is required for s3 storage")
		}
	case "fs":
		storageType = STORAGE_TYPE_FS
		if configRaw.FSConfig.CacheRoot == "" {
			return config, fmt.Errorf("fs_config.cache_root is required for fs storage")
		}
	default:
		return config, fmt.Errorf("%s is not a known storage type", x)
	}

	if configRaw.DownloadPrefix == "" {
		return config, fmt.Errorf("download_prefix is required")
	}
	if configRaw.UpstreamURL == "" {
		configRaw.UpstreamURL = DEFAULT_UPSTREAM_URL
	}
	if configRaw.ListenAddress == "" {
		configRaw.ListenAddress = DEFAULT_LISTEN_ADDRESS
	}
	if configRaw.UpstreamTimeout < 0 || configRaw.SweepInterval < 0 {
		return config, fmt.Errorf("upstream_timeout and sweep_interval must not be negative")
	}

	config = Configuration{
		StorageType:     storageType,
		DownloadPrefix:  configRaw.DownloadPrefix,
		UpstreamURL:     configRaw.UpstreamURL,
		UpstreamTimeout: configRaw.UpstreamTimeout,
		ListenAddress:   configRaw.ListenAddress,
		SweepInterval:   configRaw.SweepInterval,
		FSConfig:        configRaw.FSConfig,
		S3Config:        configRaw.S3Config,
	}

	return config, nil
}

// NewRegistryMirrorWithConfig builds the process-wide cache and upstream source.
func NewRegistryMirrorWithConfig(ctx context.Context, config Configuration, sugar *zap.SugaredLogger) (*RegistryMirror, error) {
	var cache BlobCache
	switch config.StorageType {
	case STORAGE_TYPE_FS:
		cache = NewFSBlobCache(config.FSConfig, sugar)
	case STORAGE_TYPE_S3:
		s3client, err := NewS3Client(ctx, config.S3Config.Endpoint)
		if err != nil {
			return nil, err
		}
		cache = NewS3BlobCache(s3client, config.S3Config, sugar)
	default:
		return nil, fmt.Errorf("unsupported storage type %s", config.StorageType)
	}
	sugar.Infof("using %s storage", config.StorageType)

	httpClient := &http.Client{Timeout: config.UpstreamTimeout}
	upstream := NewNpmRegistrySource(config.UpstreamURL, httpClient, sugar)
	return NewRegistryMirror(cache, upstream, config.DownloadPrefix, sugar), nil
}

// RunSweeps runs one sweep, or keeps sweeping until ctx is done when loop is set.
// A failed sweep in loop mode is logged and the next one still runs.
func RunSweeps(ctx context.Context, sweep *ReconciliationSweep, sugar *zap.SugaredLogger, loop bool, waitBetweenLoops time.Duration) error {
	for {
		result := sweep.Run(ctx)
		if result.Err != nil {
			if !loop {
				return result.Err
			}
			sugar.Errorf("sweep failed: %v", result.Err)
		}
		if !loop {
			return nil
		}

		sugar.Infof("sleeping %s until next sweep", waitBetweenLoops)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(waitBetweenLoops):
		}
	}
}

func Serve(ctx context.Context, config Configuration, mirror *RegistryMirror, sugar *zap.SugaredLogger) error {
	e := NewServer(mirror, sugar)

	if config.SweepInterval > 0 {
		go func() {
			sweep := NewReconciliationSweep(mirror, sugar)
			ticker := time.NewTicker(config.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					result := sweep.Run(ctx)
					if result.Err != nil {
						sugar.Errorf("background sweep failed: %v", result.Err)
					}
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(config.ListenAddress)
	}()
	sugar.Infof("serving registry mirror on %s", config.ListenAddress)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sugar.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
