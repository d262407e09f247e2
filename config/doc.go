// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including listener addresses, the upstream authority, and the ordered route rules.
package config
