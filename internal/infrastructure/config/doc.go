// Package config handles loading and validating myStrom bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields and device entries
//   - Default value handling (30s scan interval, 10s request timeout)
//
// Security Considerations:
//   - Sensitive values (MQTT password, API JWT secret) should be set via
//     environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.MyStrom.Devices {
//	    fmt.Println(d.Host)
//	}
package config
