package domain

type ChannelName string

// Room is created on first join and dropped once its membership is empty.
type Room struct {
	Name ChannelName
}
