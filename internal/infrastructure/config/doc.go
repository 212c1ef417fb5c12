// Package config handles loading and validating rtlamr2mqtt configuration.
//
// This package manages:
//   - Loading configuration from YAML files (JSON add-on options also parse)
//   - Overriding with environment variables
//   - Validation of required fields and meter definitions
//   - Default value handling
//
// Security Considerations:
//   - MQTT credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("/etc/rtlamr2mqtt.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.General.RTLTCPHost)
//
// Example file:
//
//	general:
//	  sleep_for: 300
//	  verbosity: info
//	  rtltcp_host: "127.0.0.1:1234"
//	mqtt:
//	  host: "mosquitto"
//	  base_topic: "rtlamr"
//	meters:
//	  - id: "33333333"
//	    protocol: "scm+"
//	    name: "gas_meter"
//	    format: "######.##"
//	    unit_of_measurement: "ft³"
package config
