// Package api embeds the relay's OpenAPI document.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
