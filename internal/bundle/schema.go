package bundle

import "github.com/invopop/jsonschema"

// Schema describes one entry of the bundles record section.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&BundleWithStatus{})
}
