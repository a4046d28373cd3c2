// Package miaoeyes contains the version number of MiaoEyes and process-wide
// constants shared between the gateway and its command line entrypoint.
package miaoeyes

import "time"

// Version is the current version of MiaoEyes.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// CookieName is the name of the cookie that MiaoEyes uses in order to validate
// access.
var CookieName = "miaoeyes-auth"

// TokenHeader is the request header clients may use instead of the cookie.
const TokenHeader = "X-MiaoEyes-Token"

// BasePrefix is a global prefix for all MiaoEyes endpoints. Can be emptied to
// remove the prefix entirely.
var BasePrefix = ""

// VerifyPrefix is the URL prefix of the public verification endpoints.
const VerifyPrefix = "/verify/"

// APIPrefix is the URL prefix of the JSON API.
const APIPrefix = "/api/"

// DefaultTokenExpiry is the token lifetime used when the configuration does
// not set one.
const DefaultTokenExpiry = time.Hour

// VerifiedIPWindow is how long a successful verification short-circuits
// /api/check-verification for the same client address.
const VerifiedIPWindow = time.Hour

// DefaultSweepInterval is how often expired challenge sessions are swept.
const DefaultSweepInterval = time.Minute
