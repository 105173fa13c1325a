// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Defaults already present in the target struct
//  2. YAML file
//  3. Environment variables
//  4. Explicit overrides (CLI flags) via LoadMap
//
// Environment keys use a double underscore between sections so that
// single underscores survive inside key names:
//
//	QUERYDECK_STORAGE__GC_INTERVAL=5m  ->  storage.gc_interval
//
// Watcher reports changes to a config file so long-running processes can
// re-apply reloadable settings such as the log level.
package confloader
