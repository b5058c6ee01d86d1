package schema

import _ "embed"

// ConfigV1Schema contains the JSON schema for sidecar.yaml.
//
//go:embed sidecar.v1.json
var ConfigV1Schema []byte
