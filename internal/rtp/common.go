package rtp

import "fmt"

const (
	// RFC 3550 defines RTP version 2.
	rtpVersion = 2
)

type errBadVersion byte

func (e errBadVersion) Error() string {
	return fmt.Sprintf("invalid RTP version: %d", byte(e))
}
