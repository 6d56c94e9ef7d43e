// Package manifest parses the YAML image description into an ordered list of
// sections.
//
// Section order follows the order of keys under image_sections in the source
// document; it drives partition-table and image-builder argument order, so the
// parser walks yaml.Node mappings instead of decoding into Go maps. Malformed
// or incomplete manifests produce a *SyntaxError carrying the line and column
// of the offending node, which matches services.ErrConfiguration.
package manifest
