// Package config provides configuration management for robotd.
//
// Configuration is loaded from environment variables using the env package.
// Every value has a default suitable for running a single node against a
// local robots directory with in-memory backends.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("robots are resolved against %s\n", cfg.Runtime.WorkDir)
package config
