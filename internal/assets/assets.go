package assets

import (
	_ "embed"
)

// StylesYAML is the built-in headshot style catalog.
//
//go:embed styles.yaml
var StylesYAML []byte
