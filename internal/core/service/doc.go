// Package service provides the gateway's domain services.
//
// This package contains:
//
//   - DatabaseService: the gateway's single current database session
//   - CredentialService: per caller profile metadata and sealed secrets
//   - StreamHub: the /ws command loop and periodic real-time data stream
//
// Services take their storage and driver dependencies as interfaces and
// are safe for concurrent use.
package service
