// Package identity works out who a connected Talking Book is and what it was
// last given.
//
// Every field falls back through the same sources, most trusted first: the
// system/deployment.properties file written by the previous update, the
// flash statistics blob (first generation only), and finally marker files
// whose name stem carries the value (for example system/DEMO-2016-1.dep).
// Resolution never writes to the device and each field is computed at most
// once per Resolver.
package identity
