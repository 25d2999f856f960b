// Package deployment reads a published content deployment: the firmware in
// basic/, one image per package under images.v1 (Gen1) or images.v2 (Gen2),
// per-community extras under communities/, and the shadowFiles/ cache that
// backs zero-byte placeholders inside the images.
//
// Deployments live at {deployments_dir}/{project}/content/{deployment}.
package deployment
