// Package server hosts the Fiber HTTP surface of the analytics cache: request-ID
// and access-log middleware plus a JSON error helper shared by the route
// packages. Routes live under server/routes and receive their dependencies
// explicitly, so the root command decides what to mount.
package server
