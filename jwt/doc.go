// Package jwt mints and verifies the stateless access tokens. The signing
// algorithm is pinned at construction and enforced on parse; a token whose
// header names any other algorithm is rejected before signature checking.
package jwt
