// Package server implements the livechat presence hub: WebSocket sessions,
// the roster of registered users, and the hub that serializes roster
// mutation and event fan-out.
//
// The implementation is organized into specialized files for configuration,
// hub management, sessions, the wire protocol, routing, and HTTP handlers to
// keep the codebase maintainable and testable as the project grows.
package server
