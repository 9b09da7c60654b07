// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

// Error codes carried by oops errors from this package. Only
// CodeHostSandboxed is fatal; every other condition leaves the proxy on its
// last-known-good implementation.
const (
	CodeNetworkUnavailable = "NETWORK_UNAVAILABLE"
	CodePayloadFetch       = "PAYLOAD_FETCH"
	CodePayloadExecution   = "PAYLOAD_EXECUTION"
	CodeHostUnavailable    = "HOST_UNAVAILABLE"
	CodeHostSandboxed      = "HOST_SANDBOXED"
	CodeUnknownAction      = "UNKNOWN_ACTION"
)
