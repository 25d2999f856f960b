// Package flashstats decodes the statistics blob that first-generation
// Talking Books persist in NOR flash and copy to statistics/flashData.bin.
//
// The decoder is strictly sequential and applies no business rules: a blob
// whose reflash counter is -1 decodes successfully but reports !Present(),
// and callers treat it exactly like a missing file.
package flashstats
