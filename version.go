package iafsm

// Version is the release version, set at build time with
// -ldflags "-X github.com/egorky/iafsm.Version=...".
var Version = "0.1.0-dev"
