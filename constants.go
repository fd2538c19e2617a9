package main

const (
	DEFAULT_UPSTREAM_URL     = "https://registry.npmjs.org"
	DEFAULT_LISTEN_ADDRESS   = ":8080"
	CACHE_INDEX_OBJECT_NAME  = "index.gz"
	CACHE_KEY_DELIMITER      = "/"
	CACHE_CONTENT_TYPE       = "application/x-gzip"
	NPM_INSTALL_CONTENT_TYPE = "application/vnd.npm.install-v1+json"
	NPM_SCOPE_MARKER         = "@"
)
