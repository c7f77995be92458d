// Package config loads the coordinator's YAML configuration file, in the
// same style the teacher's cmd/warren apply command uses for its
// declarative resource manifests.
package config
