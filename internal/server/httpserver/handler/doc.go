// Package handler provides the gateway's HTTP request handlers.
//
// Every JSON route answers with the Response envelope. Errors carry the
// domain error code in both the envelope and the X-Error-Code header.
package handler
