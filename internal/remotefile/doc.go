// Package remotefile reads export files that live on a remote-backed
// filesystem (iCloud Drive). Files may exist locally only as zero-byte
// placeholders or ".name.icloud" stubs, and opening them can fail with
// lock-like errors while the backing store settles. Reader materializes such
// files on demand, retries transient failures with bounded backoff and reports
// the outcome as a Result instead of aborting the caller's batch.
package remotefile
