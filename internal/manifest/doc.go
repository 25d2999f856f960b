// Package manifest reads and writes packages_data.txt, the content manifest
// of a Gen2 Talking Book.
//
// The format is line oriented. Every value sits on its own line, optionally
// followed by a "#" comment; audio references are a path-table index and a
// file name. Encode and Decode round-trip packages, playlists, messages and
// the resolved file paths.
package manifest
