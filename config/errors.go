package config

import "errors"

var ErrBadReplicaID = errors.New("replika: replica id is not 16-byte hex")
var ErrBadInterval = errors.New("replika: sync interval must be positive")
var ErrBadRetention = errors.New("replika: unknown retention policy")
var ErrMissingCaCert = errors.New("replika: missing ca cert")
var ErrMissingCert = errors.New("replika: missing cert")
var ErrMissingKey = errors.New("replika: missing key")
