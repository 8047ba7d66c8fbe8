package shared

// Version is the release tag stamped into logs.
const Version = "0.3.1"
