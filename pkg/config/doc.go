// Package config loads portal configuration from the environment and
// from the optional YAML policy file that names paths exempt from the
// CSRF guard and the rate limiter. The policy file is watched and
// reloaded on change so exemptions can be adjusted without a restart.
package config
