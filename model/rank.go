package model

// Rank is a user's authority in a chat. Lower numbers carry more authority.
type Rank int

const (
	RankOwner     Rank = 1
	RankAdmin     Rank = 2
	RankModerator Rank = 3
	RankHelper    Rank = 4
	RankUser      Rank = 5
)

// Valid reports whether r is within 1..5.
func (r Rank) Valid() bool {
	return r >= RankOwner && r <= RankUser
}

func (r Rank) String() string {
	switch r {
	case RankOwner:
		return "owner"
	case RankAdmin:
		return "admin"
	case RankModerator:
		return "moderator"
	case RankHelper:
		return "helper"
	case RankUser:
		return "user"
	default:
		return "unknown"
	}
}

// Capability names an action that can be granted per rank.
type Capability string

const (
	CapMute        Capability = "mute"
	CapKick        Capability = "kick"
	CapBan         Capability = "ban"
	CapWarn        Capability = "warn"
	CapManageRanks Capability = "manage_ranks"
)

// CapabilityFor returns the capability needed to issue or revoke a kind.
func CapabilityFor(k Kind) Capability {
	switch k {
	case KindMute:
		return CapMute
	case KindKick:
		return CapKick
	case KindBan:
		return CapBan
	default:
		return CapWarn
	}
}

// RankAssignment is a stored rank for a user in a chat.
type RankAssignment struct {
	ChatID     string `db:"chat_id" json:"chat_id"`
	UserID     string `db:"user_id" json:"user_id"`
	Rank       Rank   `db:"rank" json:"rank"`
	AssignedBy string `db:"assigned_by" json:"assigned_by"`
	AssignedAt int64  `db:"assigned_at" json:"assigned_at"`
}

// PermissionOverride is an explicit capability setting for a rank in a chat.
type PermissionOverride struct {
	ChatID     string     `db:"chat_id" json:"chat_id"`
	Rank       Rank       `db:"rank" json:"rank"`
	Capability Capability `db:"capability" json:"capability"`
	Allowed    bool       `db:"allowed" json:"allowed"`
}
