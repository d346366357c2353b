// Package config loads and validates the YAML configuration shared by the
// dispatch hub daemon and the field-device agent.
//
// Configuration is a single file with one struct per section. Secrets can be
// overridden from the environment (DISPATCH_JWT_SECRET, DISPATCH_DEVICE_TOKEN,
// DISPATCH_MQTT_PASSWORD, DISPATCH_INFLUXDB_TOKEN) so the YAML file never
// needs to contain credentials in production.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	log := logging.New(cfg.Logging, version)
package config
