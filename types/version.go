package types

// Version is the canonical project version.
// The CLI, the completion event payload and the export record format share
// this version.
const Version = "0.3.0"

// ContractVersion is stamped on published completion events and exported
// records. It moves in lockstep with Version.
const ContractVersion = Version
