package app

import (
	"sort"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomManagerImpl keeps one RoomService per channel. Like Registry it is
// owned by the orchestrator loop.
type RoomManagerImpl struct {
	rooms map[domain.ChannelName]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.ChannelName]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(name domain.ChannelName) core.RoomService {
	if room, ok := f.rooms[name]; ok {
		return room
	}
	room := core.NewRoomService(&domain.Room{Name: name})
	f.rooms[name] = room
	log.Info().Str("module", "app.rooms").Str("channel", string(name)).Msg("room created")
	return room
}

func (f *RoomManagerImpl) Get(name domain.ChannelName) (core.RoomService, bool) {
	room, ok := f.rooms[name]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for name, r := range f.rooms {
		out = append(out, core.RoomInfo{Name: name, MemberCount: r.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *RoomManagerImpl) StopRoom(name domain.ChannelName) {
	if _, ok := f.rooms[name]; !ok {
		return
	}
	delete(f.rooms, name)
	log.Info().Str("module", "app.rooms").Str("channel", string(name)).Msg("room deleted")
}
