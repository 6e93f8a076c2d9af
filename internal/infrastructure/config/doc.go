// Package config handles loading and validating RoomLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (ROOMLINK_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Device and broker passwords should be set via environment variables
//     (ROOMLINK_DEVICE_<N>_PASSWORD, ROOMLINK_MQTT_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Devices.TransportOrder)
package config
