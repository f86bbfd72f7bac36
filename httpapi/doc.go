// Package httpapi exposes the engine flows over JSON HTTP. Error responses
// use the RFC 9457 Problem Details shape with a stable machine-readable
// errorCode; success bodies are flat JSON. All failure detail beyond the
// generic title stays in the server logs.
package httpapi
