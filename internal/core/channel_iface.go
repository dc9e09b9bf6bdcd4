package core

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []Session
	Failed  int
}

// ChannelService is the core-facing API of a logical channel.
// It owns the subscriber set but never touches transport resources.
type ChannelService interface {
	ID() ChannelID
	SubscriberCount() int
	Subscribers() []Session

	Subscribe(s Session)
	// Unsubscribe reports whether the channel became empty.
	Unsubscribe(id ConnID) bool
}

type ChannelInfo struct {
	ID          ChannelID `json:"id"`
	Subscribers int       `json:"subscribers"`
}

type ChannelFactory interface {
	Subscribe(id ChannelID, s Session)
	Unsubscribe(id ChannelID, conn ConnID)
	Get(id ChannelID) (ChannelService, bool)
	List() []ChannelInfo
}
