// Package config loads adminboard configuration from ADMINBOARD_*
// environment variables and validates it.
package config
