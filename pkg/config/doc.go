// Package config loads the pondsync configuration file.
//
// A file is read as YAML, checked against a built-in CUE schema (unknown keys
// and mistyped values are rejected), decoded over Default, overridden from
// the environment (PONDSYNC_FARMBOT_URL, PONDSYNC_FARMBOT_EMAIL,
// PONDSYNC_FARMBOT_PASSWORD, PONDSYNC_LISTEN, PONDSYNC_JOURNAL_PATH,
// PONDSYNC_SWEEP_INTERVAL) and finally validated with struct tags.
//
//	loader, err := config.NewLoader()
//	if err != nil {
//	    return err
//	}
//	cfg, err := loader.Load("pondsync.yaml")
//
// Watcher reloads the file on change. The serve command uses it to apply a
// new sweep interval, log level and bed bounds without a restart; other
// fields take effect on the next start.
package config
