// Package stores holds small Redis-backed substores composed by the Engine.
// Each store owns its key namespace and wraps connection faults in its own
// unavailability sentinel; no store interprets tokens or makes policy
// decisions.
package stores
