// Package config provides configuration loading and validation for the capture service.
// Configuration is read from a YAML file on top of Default values; every section
// has its own Validate method and duration helpers.
package config
