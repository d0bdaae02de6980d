// Package config loads and validates the daemon's configuration.
//
// Settings come from a YAML file, then environment variables override
// individual values (PROTECTSYNC_* names, see applyEnvOverrides). Load
// fills defaults, validates the result, and returns a Config the rest
// of the daemon treats as read-only; nothing re-reads configuration at
// runtime.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Controller.Host)
//
// The controller API token grants full integration access to the NVR.
// Prefer PROTECTSYNC_CONTROLLER_API_TOKEN over putting it in the file,
// and keep the file at 0600 either way.
package config
