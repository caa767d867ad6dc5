package protocol

// Kind identifies a protocol command. The set is closed: decoding maps the
// wire command string onto one of these and dispatch switches over the
// resulting message types, so a new command is a compile-time addition.
type Kind int

const (
	KindUnknown Kind = iota

	// Client to server requests.
	KindGetSync
	KindGetAds
	KindGetFile

	// Server to client responses and pushes.
	KindSync
	KindAdList
	KindFileTransfer
)

const (
	cmdGetSync      = "get_sync"
	cmdGetAds       = "get_ads"
	cmdGetFile      = "get_file"
	cmdSync         = "sync"
	cmdAdList       = "ad_list"
	cmdFileTransfer = "file_transfer"
)

func kindOf(command string) Kind {
	switch command {
	case cmdGetSync:
		return KindGetSync
	case cmdGetAds:
		return KindGetAds
	case cmdGetFile:
		return KindGetFile
	case cmdSync:
		return KindSync
	case cmdAdList:
		return KindAdList
	case cmdFileTransfer:
		return KindFileTransfer
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindGetSync:
		return cmdGetSync
	case KindGetAds:
		return cmdGetAds
	case KindGetFile:
		return cmdGetFile
	case KindSync:
		return cmdSync
	case KindAdList:
		return cmdAdList
	case KindFileTransfer:
		return cmdFileTransfer
	default:
		return "unknown"
	}
}
