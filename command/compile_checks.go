package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[QueueEventMessage]   = (*QueueEventCommand)(nil)
	_ gocmd.Commander[ProcessEventMessage] = (*ProcessEventCommand)(nil)
	_ gocmd.Commander[ReleaseClaimMessage] = (*ReleaseClaimCommand)(nil)
)
