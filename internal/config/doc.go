// Package config holds the process-wide settings of zvm: the installation
// root and the layout beneath it, the remote-listing cache TTL, the free-space
// floor for installs, and network timeouts.
//
// A Config is loaded once from <root>/config.toml and passed by pointer to
// every core component. Nothing in zvm reads configuration from globals.
package config
