// Package domain defines the core domain models for QueryDeck.
//
// Domain models are pure value objects without IO dependencies or
// framework coupling. This package contains:
//
//   - Profile: a named database connection description and its lifecycle status
//   - Secret: the credential pair a profile needs to connect
//   - Errors: the error taxonomy shared by every component
package domain
