/*

Package store is a temporary content-addressable blob store.  Blobs
are streamed to disk once, addressed by the cryptographic hash of
their bytes, and deduplicated by that hash.  The store directory is
scratch space: it lives as long as the Store that owns it, and Close
removes what the Store wrote.

Vocabulary:

- dir: absolute path of the store root; blobs live directly under it
- algo: name (string) describing hash algorithm; "sha1" unless configured
- hash: lowercase hexadecimal digest of a blob's bytes
- handle: in-memory wrapper around a hash, returned by Store and taken
  by Load
- blob: stored byte payload; stored as file named Prefix + hash + Suffix
- intermediate: private write-once file in dir that receives the bytes
  while the hash is being computed; never survives a Store call
- commit: hard link of the intermediate to the blob path; fails if the
  blob already exists, which is how dedup happens
- flush: recursive removal of a stale store root at Open

*/

package store
