// Package srn issues Talking Book serial numbers from blocks reserved for
// this loader.
//
// An Allocator holds a primary and a backup range. The first reservation is
// split in half; later reservations refill whichever half is empty. The
// Manager persists the allocator after every change and asks the
// reservation service for more numbers while it still has a backup to fall
// back on.
package srn
