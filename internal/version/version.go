package version

// Version is stamped by the release workflow via -ldflags.
var Version = "0.3.0-dev"
