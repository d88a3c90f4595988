package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User    *User
	Channel ChannelName
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, channel ChannelName) *Member {
	return &Member{User: user, Channel: channel}
}
