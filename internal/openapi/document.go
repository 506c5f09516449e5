// Package openapi embeds the HTTP API description served at
// /v1/openapi.yaml and used for request validation.
package openapi

import _ "embed"

//go:embed openapi.yaml
var Document []byte
