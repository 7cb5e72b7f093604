// Package healthdata knows the layout of the daily Health Auto Export files and
// wires them to the remote-file reader and the cache coordinator. Repository is
// the entry point the CLI, the HTTP surface and the watcher share.
package healthdata
