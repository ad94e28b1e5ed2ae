/*
Package config reads loosely typed configuration files.

A Config wraps the decoded map of a YAML, JSON or TOML file and offers
accessors that take a default, so callers never type-assert:

	cfg, err := config.FromFile("schemaflow.toml")
	if err != nil {
	    return err
	}
	addr := cfg.String("server.addr", ":8080")
	poll := cfg.Duration("jobs.poll_interval", 3*time.Second)
	workers := cfg.Section("jobs").Int("workers", 4)

Durations accept Go duration strings ("3s", "1m30s") or numbers of seconds.
Nested tables are reached with dotted keys or Section.
*/
package config
