package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Region routing/state.
	ErrRegionDisabled = "E_REGION_DISABLED"
	ErrNoPermission   = "E_NO_PERMISSION"

	// Event/record layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownEffect = "E_UNKNOWN_EFFECT"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrRegionDisabled:  {},
	ErrNoPermission:    {},
	ErrBadRequest:      {},
	ErrUnknownEffect:   {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
