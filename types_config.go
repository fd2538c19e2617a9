package main

import "time"

type fsConfig struct {
	CacheRoot string `yaml:"cache_root"`
	PageSize  int    `yaml:"page_size"`
}

type s3Config struct {
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
	PageSize int32  `yaml:"page_size"`
}

type configRaw struct {
	StorageType     string        `yaml:"storage_type"`
	DownloadPrefix  string        `yaml:"download_prefix"`
	UpstreamURL     string        `yaml:"upstream_url"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
	ListenAddress   string        `yaml:"listen_address"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	FSConfig        fsConfig      `yaml:"fs_config"`
	S3Config        s3Config      `yaml:"s3_config"`
}

type Configuration struct {
	StorageType     BlobStorageType
	DownloadPrefix  string
	UpstreamURL     string
	UpstreamTimeout time.Duration
	ListenAddress   string
	SweepInterval   time.Duration
	FSConfig        fsConfig
	S3Config        s3Config
}
