// Package config loads runtime configuration for the uploadkeeper agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. The sys.conf JSON file selected with -c / -config (default: the user
//     config dir). Comments and trailing commas are tolerated.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-host string    backend base address
//	-state string   directory for resume state
//
// # JSON schema
//
// The four fields shared with the desktop UI keep their historic names;
// durations accept strings like "2s" or integer nanoseconds:
//
//	{
//	  "watchDir": ["/home/me/Pictures"],
//	  "interval": 2,
//	  "host": "192.168.1.10:8080",
//	  "autoUploadAlbum": false,
//	  "maxConcurrentChunks": 3,
//	  "retryDelay": "2s"
//	}
//
// The file is also written: the endpoint resolver persists a discovered host
// with (*Store).SetHost, which rewrites only the "host" key.
package config
