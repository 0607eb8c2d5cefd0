// Package config loads, normalizes, and validates assetopt configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DATOCMS_API_TOKEN. The Optimization section doubles as the batch settings
// record and can also be decoded from the JSON document the CMS plugin stored
// in its parameters.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical locales, and clear validation errors.
package config
