// Package config loads and validates the Gray Logic Hub configuration.
//
// Values come from three layers, later ones winning:
//   - built-in defaults
//   - the YAML file
//   - GRAYLOGIC_HUB_* environment variables
//
// Secrets (MQTT password, Redis password, InfluxDB token, OAuth state
// secret) should be supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/hub.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.Name)
package config
