/*
Package config loads and validates the testbed configuration: the local host
and network declarations, the cloud gateway and instances, and the cluster
roster.

Configuration is read from an optional YAML file (ainur.yaml in /etc/ainur,
the home directory or the working directory) overlaid with AINUR_-prefixed
environment variables. Raw values stay strings at load time; the typed
accessors on Config parse addresses into netip values and surface every
problem as a ConfigurationError before any remote host is touched.
*/
package config
