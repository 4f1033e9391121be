// Package config provides YAML configuration loading for edinbridge.
//
// Configuration is loaded from a single YAML file with three layers of
// precedence (lowest to highest):
//
//  1. Built-in defaults (see defaultConfig)
//  2. Values from the YAML file
//  3. EDINBRIDGE_* environment variable overrides
//
// The loaded configuration is validated before use; Load returns an error
// describing the first invalid value it finds.
//
// # Example
//
//	gateway:
//	  host: "npu-house.local"
//	  tcp_port: 26
//	  keep_alive:
//	    interval: 60
//	    timeout: 2
//	mqtt:
//	  broker:
//	    host: "localhost"
//	    port: 1883
package config
