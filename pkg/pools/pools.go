// Package pools recycles the byte buffers that wire frames are encoded into
// and decompressed through, so a busy connection does not allocate a fresh
// buffer per call.
package pools
