package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/roomwire/internal/cache"
	"github.com/vovakirdan/roomwire/internal/store"
)

// RegistryStore is the persistence the registry reads from.
type RegistryStore interface {
	ListMembers(ctx context.Context, roomID int64) ([]store.Member, error)
	CountUnread(ctx context.Context, roomID, userID int64) (int, error)
	CountUnreadPrivate(ctx context.Context, receiverID, senderID int64) (int, error)
}

// Registry answers membership and unread questions. Member snapshots always
// read through to storage. Unread counts are recomputed from storage and
// memoized in the counter cache until a mutation invalidates them.
type Registry struct {
	store  RegistryStore
	counts cache.Counters
	exec   *Executor
	log    *zerolog.Logger

	group singleflight.Group

	// gen is bumped on every invalidation so a recompute that raced with a
	// mutation does not write its stale result back.
	genMu sync.Mutex
	gen   map[string]uint64
}

// NewRegistry creates a registry. counts may be cache.Nop{}.
func NewRegistry(st RegistryStore, counts cache.Counters, exec *Executor, logger *zerolog.Logger) *Registry {
	if counts == nil {
		counts = cache.Nop{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		store:  st,
		counts: counts,
		exec:   exec,
		log:    logger,
		gen:    make(map[string]uint64),
	}
}

// MemberSnapshot returns the durable member list of room with presence and avatars.
func (r *Registry) MemberSnapshot(ctx context.Context, room *store.Room) ([]MemberInfo, error) {
	members, err := Exec(ctx, r.exec, func(ctx context.Context) ([]store.Member, error) {
		return r.store.ListMembers(ctx, room.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return lo.Map(members, func(m store.Member, _ int) MemberInfo {
		return MemberInfo{
			Username:  m.User.Username,
			Avatar:    m.Profile.Avatar,
			IsOnline:  m.Profile.IsOnline,
			IsCreator: m.User.ID == room.CreatedBy,
		}
	}), nil
}

func roomCountKey(roomID, userID int64) string {
	return "unread:" + strconv.FormatInt(roomID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func roomCountPattern(roomID int64) string {
	return "unread:" + strconv.FormatInt(roomID, 10) + ":*"
}

func privateCountKey(receiverID, senderID int64) string {
	return "unread-dm:" + strconv.FormatInt(receiverID, 10) + ":" + strconv.FormatInt(senderID, 10)
}

func roomGenKey(roomID int64) string {
	return "room:" + strconv.FormatInt(roomID, 10)
}

// UnreadCount counts room messages by others that userID has not read,
// ignoring messages before the user's hidden marker.
func (r *Registry) UnreadCount(ctx context.Context, roomID, userID int64) (int, error) {
	return r.memoized(ctx, roomCountKey(roomID, userID), roomGenKey(roomID), func(ctx context.Context) (int, error) {
		return r.store.CountUnread(ctx, roomID, userID)
	})
}

// PrivateUnreadCount counts unread direct messages from senderID to receiverID.
func (r *Registry) PrivateUnreadCount(ctx context.Context, receiverID, senderID int64) (int, error) {
	key := privateCountKey(receiverID, senderID)
	return r.memoized(ctx, key, key, func(ctx context.Context) (int, error) {
		return r.store.CountUnreadPrivate(ctx, receiverID, senderID)
	})
}

func (r *Registry) memoized(ctx context.Context, key, genKey string, compute func(context.Context) (int, error)) (int, error) {
	if n, ok, err := r.counts.Get(ctx, key); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("unread cache get failed")
	} else if ok {
		return n, nil
	}

	// Calls started after an invalidation never join a flight started before it.
	gen := r.generation(genKey)
	flight := key + "#" + strconv.FormatUint(gen, 10)
	// The flight is shared; one caller going away must not fail the others.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(flight, func() (any, error) {
		n, err := Exec(fctx, r.exec, compute)
		if err != nil {
			return 0, err
		}
		if r.generation(genKey) != gen {
			return n, nil
		}
		if err := r.counts.Set(fctx, key, n); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("unread cache set failed")
			return n, nil
		}
		// An invalidation that slipped in before the write may have missed it.
		if r.generation(genKey) != gen {
			if err := r.counts.Delete(fctx, key); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("unread cache invalidate failed")
			}
		}
		return n, nil
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return v.(int), nil
}

func (r *Registry) generation(key string) uint64 {
	r.genMu.Lock()
	defer r.genMu.Unlock()
	return r.gen[key]
}

func (r *Registry) bump(key string) {
	r.genMu.Lock()
	r.gen[key]++
	r.genMu.Unlock()
}

// InvalidateRoom drops every memoized count of the room. Used when a message
// is added or deleted.
func (r *Registry) InvalidateRoom(ctx context.Context, roomID int64) {
	r.bump(roomGenKey(roomID))
	if err := r.counts.DeletePattern(ctx, roomCountPattern(roomID)); err != nil {
		r.log.Warn().Err(err).Int64("room_id", roomID).Msg("unread cache invalidate failed")
	}
}

// InvalidateRoomUser drops the memoized count of one reader. Used on mark read and hide.
func (r *Registry) InvalidateRoomUser(ctx context.Context, roomID, userID int64) {
	r.bump(roomGenKey(roomID))
	if err := r.counts.Delete(ctx, roomCountKey(roomID, userID)); err != nil {
		r.log.Warn().Err(err).Int64("room_id", roomID).Int64("user_id", userID).Msg("unread cache invalidate failed")
	}
}

// InvalidatePrivate drops the memoized count of messages from senderID to receiverID.
func (r *Registry) InvalidatePrivate(ctx context.Context, receiverID, senderID int64) {
	key := privateCountKey(receiverID, senderID)
	r.bump(key)
	if err := r.counts.Delete(ctx, key); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("unread cache invalidate failed")
	}
}
