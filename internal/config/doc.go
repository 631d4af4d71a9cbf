// Package config provides configuration loading and validation for the GreenVoice
// service. Configuration is read from YAML on top of built-in defaults, optionally
// overridden from the environment (including .env files), and validated per section.
package config
