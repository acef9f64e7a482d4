package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Grid commands.
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrNoCasing    = "E_NO_CASING"
	ErrWrongModule = "E_WRONG_MODULE"
	ErrUnloaded    = "E_UNLOADED"
	ErrBusy        = "E_BUSY"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrBadRequest:      {},
	ErrNoCasing:        {},
	ErrWrongModule:     {},
	ErrUnloaded:        {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
