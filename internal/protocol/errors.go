package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World loop state.
	ErrWorldBusy = "E_WORLD_BUSY"

	// Request layer.
	ErrBadRequest       = "E_BAD_REQUEST"
	ErrNoPermission     = "E_NO_PERMISSION"
	ErrRateLimit        = "E_RATE_LIMIT"
	ErrOverlayTooLarge  = "E_OVERLAY_TOO_LARGE"
	ErrUnknownOverlay   = "E_UNKNOWN_OVERLAY"
	ErrPlacementPending = "E_PLACEMENT_PENDING"
	ErrInternal         = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:  {},
	ErrWorldBusy:        {},
	ErrBadRequest:       {},
	ErrNoPermission:     {},
	ErrRateLimit:        {},
	ErrOverlayTooLarge:  {},
	ErrUnknownOverlay:   {},
	ErrPlacementPending: {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
