package module

import "errors"

var (
	ErrUnknownDriver    = errors.New("module: unknown driver")
	ErrDuplicateDriver  = errors.New("module: driver already registered")
	ErrModuleNotFound   = errors.New("module: module not found")
	ErrModuleExists     = errors.New("module: module already loaded")
	ErrLoadFailed       = errors.New("module: load failed")
	ErrInvalidName      = errors.New("module: invalid module name")
	ErrInvalidSource    = errors.New("module: invalid registry source")
	ErrInvalidVersion   = errors.New("module: invalid version")
	ErrNotInstalled     = errors.New("module: module not installed from a registry")
	ErrManifestMismatch = errors.New("module: manifest does not match request")
	ErrNoFetcher        = errors.New("module: no registry fetcher configured")
	ErrManifestTooLarge = errors.New("module: manifest too large")
)
