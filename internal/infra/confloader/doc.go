// Package confloader loads the agent configuration.
//
// Values are layered with koanf: defaults from config.Default, then the
// YAML file, then CKPT_-prefixed environment variables, then explicit
// overrides from command-line flags. A Watcher reports edits to the file
// so the log level can change without a restart.
package confloader
