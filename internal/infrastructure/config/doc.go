// Package config handles loading and validating SunTec Core configuration.
//
// Both binaries read the same file layout:
//   - the gateway (cmd/suntec) uses Load, which validates the server sections
//   - the dashboard (cmd/suntec-dash) uses LoadClient, which tolerates a
//     missing file and validates only the client section
//
// Security Considerations:
//   - Sensitive values (passwords, tokens, API keys) should be set via
//     environment variables or a .env file
//   - The config file should have restricted permissions (0600)
//   - In local identity mode the JWT secret signs every session token
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Telemetry.Source)
package config
