// Package config handles loading and validating CorePost Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (admin token, broker credentials) should be set
//     via environment variables
//   - The config file should have restricted permissions (0600)
//   - The admin token must be changed from any sample value before
//     production use
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Port)
//
// The core never re-reads configuration at request time: values are
// copied into component policies at startup and passed explicitly.
package config
