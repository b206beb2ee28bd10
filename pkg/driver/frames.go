package driver

// Command frames flow client -> driver over the command Publication.
// Framing and wire layout belong to the driver's wire codec (out of scope);
// these are the in-process payloads the real codec would serialize.

type AddPublicationCmd struct {
	CorrelationID int64
	Channel       string
	StreamID      int32
	Exclusive     bool
}

type AddSubscriptionCmd struct {
	CorrelationID int64
	Channel       string
	StreamID      int32
}

type AddCounterCmd struct {
	CorrelationID int64
	TypeID        int32
	Key           []byte
	Label         []byte
}

type RemovePublicationCmd struct {
	CorrelationID  int64
	RegistrationID int64
}

type RemoveSubscriptionCmd struct {
	CorrelationID  int64
	RegistrationID int64
}

type RemoveCounterCmd struct {
	CorrelationID  int64
	RegistrationID int64
}

type AddDestinationCmd struct {
	CorrelationID  int64
	RegistrationID int64
	Channel        string
}

type RemoveDestinationCmd struct {
	CorrelationID  int64
	RegistrationID int64
	Channel        string
}

type ClientKeepaliveCmd struct{}

// Event frames flow driver -> client over the events Subscription.

type NewPublicationEvt struct {
	CorrelationID            int64
	RegistrationID           int64
	StreamID                 int32
	PublicationLimitCounterID int32
	ChannelStatusIndicatorID int32
	LogFileName              string
	Exclusive                bool
}

type NewSubscriptionEvt struct {
	CorrelationID            int64
	RegistrationID           int64
	ChannelStatusIndicatorID int32
}

type NewCounterEvt struct {
	CorrelationID int64
	RegistrationID int64
}

type OperationSuccessEvt struct {
	CorrelationID int64
}

type AvailableImageEvt struct {
	CorrelationID              int64 // the image's own id
	SubscriptionRegistrationID int64
	SessionID                  int32
	SourceIdentity             string
	SubscriberPositionID       int32
	LogFileName                string
}

type UnavailableImageEvt struct {
	CorrelationID              int64
	SubscriptionRegistrationID int64
}

type ErrorEvt struct {
	CorrelationID int64
	Code          int32
	Message       string
}

type ChannelEndpointErrorEvt struct {
	StatusIndicatorID int32
	Message           string
}
