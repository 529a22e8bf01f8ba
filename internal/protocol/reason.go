package protocol

import "fmt"

// ReasonCode classifies why a segment did not start. The numeric values are
// part of the wire protocol and must not be renumbered.
type ReasonCode int

const (
	ReasonUnknownError              ReasonCode = -1
	ReasonSuccess                   ReasonCode = 0
	ReasonMirroringFailure          ReasonCode = 1
	ReasonPostmasterDied            ReasonCode = 2
	ReasonInvalidStateTransition    ReasonCode = 3
	ReasonServerInShutdown          ReasonCode = 4
	ReasonStopRunningSegmentFailed  ReasonCode = 5
	ReasonDataDirectoryDoesNotExist ReasonCode = 6
	ReasonServerDidNotRespond       ReasonCode = 7
	ReasonStartCommandFailed        ReasonCode = 8
	ReasonCheckingConnectionFailed  ReasonCode = 9
	ReasonPingFailed                ReasonCode = 10
	ReasonControlDataFailed         ReasonCode = 11
	ReasonOther                     ReasonCode = 1000
)

var reasonNames = map[ReasonCode]string{
	ReasonUnknownError:              "unknown error",
	ReasonSuccess:                   "success",
	ReasonMirroringFailure:          "mirroring failure",
	ReasonPostmasterDied:            "postmaster died",
	ReasonInvalidStateTransition:    "invalid state transition",
	ReasonServerInShutdown:          "server is in shutdown",
	ReasonStopRunningSegmentFailed:  "stop of running segment failed",
	ReasonDataDirectoryDoesNotExist: "data directory does not exist",
	ReasonServerDidNotRespond:       "server did not respond",
	ReasonStartCommandFailed:        "start command failed",
	ReasonCheckingConnectionFailed:  "connection and locale check failed",
	ReasonPingFailed:                "ping failed",
	ReasonControlDataFailed:         "control data read failed",
	ReasonOther:                     "other",
}

func (c ReasonCode) String() string {
	if name, ok := reasonNames[c]; ok {
		return name
	}
	return fmt.Sprintf("reason code %d", int(c))
}
