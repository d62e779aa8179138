package tiscale

// Version of the SDK, embedded in the User-Agent header.
const Version = "1.0.0"

// DefaultUserAgent identifies this SDK to the worker.
const DefaultUserAgent = "tiscale-go-sdk/" + Version
