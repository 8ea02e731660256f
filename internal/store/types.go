// Package store defines the persistence contract for the rating engine
// (C4) and the domain entities it owns. Two implementations exist:
// memstore (in-memory, used by tests) and pgstore (Postgres via pgx). Both
// MUST satisfy the same invariants from spec.md §8 — the in-memory store
// is not a degraded stand-in, it is a first-class backend for tests.
package store

import (
	"context"
	"time"
)

// RatingStatus is the lifecycle state of a Match's rating outcome.
type RatingStatus string

const (
	RatingStatusRated   RatingStatus = "RATED"
	RatingStatusUnrated RatingStatus = "UNRATED"
	RatingStatusPending RatingStatus = "PENDING"
)

// Organization is the tenant identity.
type Organization struct {
	OrganizationID string
	Slug           string
	Name           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Sex is a player's competition sex category.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
	SexOther  Sex = "X"
)

// Player is a rateable person scoped to exactly one organization.
type Player struct {
	PlayerID       string
	OrganizationID string
	DisplayName    string
	GivenName      string
	FamilyName     string
	Sex            Sex
	BirthDate      *time.Time
	BirthYear      *int
	CountryCode    string
	RegionID       string
	ExternalRef    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DerivedBirthYear returns the birth year derived from BirthDate when
// present, falling back to the explicit BirthYear field. Per SPEC_FULL.md's
// open-question decision, callers that construct/validate a Player must
// reject an explicit BirthYear that disagrees with BirthDate instead of
// silently tolerating the mismatch.
func (p *Player) DerivedBirthYear() *int {
	if p.BirthDate != nil {
		y := p.BirthDate.Year()
		return &y
	}
	return p.BirthYear
}

// AgeBand describes one named age bracket for a ladder's age policy.
type AgeBand struct {
	Label string
	MinAge *int
	MaxAge *int
}

// AgePolicy is an optional per-ladder age-bracket configuration, used only
// by leaderboard filters.
type AgePolicy struct {
	CutoffDate time.Time
	AgeBands   map[string]AgeBand
}

// LadderKey is the identity tuple of a rating ladder.
type LadderKey struct {
	OrganizationID string
	Sport          string
	Discipline     string
	Format         string
	Tier           string
	RegionID       string
}

// DefaultTier and DefaultRegion are the ladder identity defaults from §3.
const (
	DefaultTier   = "UNSPECIFIED"
	DefaultRegion = "GLOBAL"
)

// Normalize fills in the ladder identity defaults.
func (k LadderKey) Normalize() LadderKey {
	if k.Tier == "" {
		k.Tier = DefaultTier
	}
	if k.RegionID == "" {
		k.RegionID = DefaultRegion
	}
	return k
}

// Ladder is the persisted row for one rating ladder.
type Ladder struct {
	LadderID  string
	LadderKey
	AgePolicy *AgePolicy
	CreatedAt time.Time
}

// PlayerRating is a player's current state on a ladder.
type PlayerRating struct {
	PlayerID string
	LadderID string
	Mu       float64
	Sigma    float64
	Matches  int
	UpdatedAt time.Time
}

// PairSynergy is a recurring doubles pair's current synergy state on a ladder.
type PairSynergy struct {
	LadderID string
	PairKey  string
	Gamma    float64
	Matches  int
	UpdatedAt time.Time
}

// Game is one scored game within a match.
type Game struct {
	GameNo int
	A      int
	B      int
}

// MatchSides holds the ordered player lists for both sides of a match.
type MatchSides struct {
	A []string
	B []string
}

// Match is the immutable-in-identity record of one completed (or archived)
// contest.
type Match struct {
	MatchID          string
	LadderID         string
	ProviderID       string
	OrganizationID   string
	Sport            string
	Discipline       string
	Format           string
	Tier             string
	RegionID         string
	StartTime        time.Time
	Sides            MatchSides
	Games            []Game
	RawPayload       []byte
	RatingStatus     RatingStatus
	RatingSkipReason string
	EventID          string
	CompetitionID    string
	ExternalRef      string
	VenueID          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RatingEvent is an append-only audit row for one (match, player) rating
// transition.
type RatingEvent struct {
	RatingEventID  string
	OrganizationID string
	PlayerID       string
	LadderID       string
	MatchID        string
	AppliedAt      time.Time
	MuBefore       float64
	MuAfter        float64
	Delta          float64
	SigmaBefore    float64
	SigmaAfter     float64
	WinProbPre     float64
	MovWeight      float64
}

// PairSynergyHistory is the analogous append-only log for gamma.
type PairSynergyHistory struct {
	HistoryID      string
	OrganizationID string
	LadderID       string
	PairKey        string
	MatchID        string
	AppliedAt      time.Time
	GammaBefore    float64
	GammaAfter     float64
	Delta          float64
	MatchesBefore  int
	MatchesAfter   int
	Activated      bool
}

// ReplayQueueEntry tracks the earliest perturbed start time for a ladder
// awaiting chronological replay.
type ReplayQueueEntry struct {
	LadderID          string
	EarliestStartTime time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MatchFilter narrows ListMatches results.
type MatchFilter struct {
	OrganizationID string
	Sport          string
	PlayerID       string
	EventID        string
	StartAfter     *time.Time
	StartBefore    *time.Time
	Cursor         string
	Limit          int
}

// LeaderboardFilter narrows ListLeaderboard results.
type LeaderboardFilter struct {
	LadderKey   LadderKey
	AgeGroup    string
	AgeFrom     *int
	AgeTo       *int
	AgeCutoff   *time.Time
	Cursor      string
	Limit       int
}

// LeaderboardRow is one ranked entry.
type LeaderboardRow struct {
	PlayerID string
	Rank     int
	Mu       float64
	Sigma    float64
	Matches  int
}

// Page wraps a result slice with an opaque continuation cursor.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// MatchWrite bundles everything a single ingestion or replay step needs to
// persist atomically for one match: the match row itself, the resulting
// player ratings, rating events, pair synergies and pair history.
type MatchWrite struct {
	Match        Match
	Ratings      []PlayerRating
	RatingEvents []RatingEvent
	Pairs        []PairSynergy
	PairHistory  []PairSynergyHistory
}

// RatingStore is the persistence capability the ingestion coordinator (C5)
// and replay engine (C6) depend on. Implementations: memstore (tests),
// pgstore (production, via pgx).
type RatingStore interface {
	// Organizations
	CreateOrganization(ctx context.Context, org Organization) (Organization, error)
	GetOrganization(ctx context.Context, organizationID string) (Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	UpdateOrganization(ctx context.Context, org Organization) (Organization, error)

	// Players
	CreatePlayer(ctx context.Context, p Player) (Player, error)
	GetPlayer(ctx context.Context, playerID string) (Player, error)
	GetPlayersByID(ctx context.Context, playerIDs []string) (map[string]Player, error)
	FindPlayerByExternalRef(ctx context.Context, organizationID, providerID, externalRef string) (Player, bool, error)

	// Ladders
	EnsureLadder(ctx context.Context, key LadderKey) (Ladder, error)
	GetLadder(ctx context.Context, ladderID string) (Ladder, error)
	GetLadderByKey(ctx context.Context, key LadderKey) (Ladder, bool, error)

	// Ratings & synergies (read snapshots)
	GetPlayerRatings(ctx context.Context, ladderID string, playerIDs []string) (map[string]PlayerRating, error)
	GetPairSynergies(ctx context.Context, ladderID string, pairKeys []string) (map[string]PairSynergy, error)

	// Matches
	MaxStartTime(ctx context.Context, ladderID string) (time.Time, bool, error)
	GetMatch(ctx context.Context, matchID string) (Match, error)
	FindMatchByExternalRef(ctx context.Context, providerID, externalRef string) (Match, bool, error)
	ListMatches(ctx context.Context, filter MatchFilter) (Page[Match], error)
	ListMatchesFromLadder(ctx context.Context, ladderID string, from time.Time) ([]Match, error)
	UpdateMatchSchedule(ctx context.Context, matchID string, startTime *time.Time, venueID, regionID, eventID *string) (Match, error)

	// CommitMatch performs the full atomic write of §4.3 steps 8-9 (or the
	// unrated variant): match + sides + games, player ratings, rating
	// events, pair synergies, pair history — one transaction.
	CommitMatch(ctx context.Context, write MatchWrite) error

	// ReplayCommit atomically replaces the rating history for a ladder
	// from t0 onward: deletes RatingEvent/PairSynergyHistory rows with
	// start_time >= t0, rewrites PlayerRating/PairSynergy to the reverted
	// baseline, then replays each write in order. See internal/replay.
	ReplayCommit(ctx context.Context, ladderID string, t0 time.Time, reverted RevertedState, writes []MatchWrite) error

	// Rating events / history queries
	GetRatingEvent(ctx context.Context, ratingEventID string) (RatingEvent, error)
	ListRatingEvents(ctx context.Context, organizationID, playerID string, cursor string, limit int) (Page[RatingEvent], error)
	LatestRatingEventBefore(ctx context.Context, ladderID, playerID string, asOf time.Time) (RatingEvent, bool, error)
	LatestPairHistoryBefore(ctx context.Context, ladderID, pairKey string, asOf time.Time) (PairSynergyHistory, bool, error)
	RatingEventsOnOrAfter(ctx context.Context, ladderID string, t0 time.Time) ([]RatingEvent, error)
	ParticipantsSince(ctx context.Context, ladderID string, t0 time.Time) ([]string, error)

	// Replay queue
	UpsertReplayQueueEntry(ctx context.Context, ladderID string, earliestStartTime time.Time) error
	GetReplayQueueEntry(ctx context.Context, ladderID string) (ReplayQueueEntry, bool, error)
	DeleteReplayQueueEntry(ctx context.Context, ladderID string) error
	ListReplayQueueEntries(ctx context.Context) ([]ReplayQueueEntry, error)

	// Leaderboard
	ListLeaderboard(ctx context.Context, filter LeaderboardFilter) (Page[LeaderboardRow], error)
}

// RevertedState is the pre-t0 baseline the replay engine computes and the
// store applies atomically as the first phase of ReplayCommit.
type RevertedState struct {
	Ratings []PlayerRating
	Pairs   []PairSynergy
}

// InsightSnapshot is the C8 read model the worker upserts after a
// successful insight-refresh job, keyed by (organization, player, sport,
// discipline) — sport/discipline empty means "all disciplines combined".
type InsightSnapshot struct {
	OrganizationID string
	PlayerID       string
	Sport          string
	Discipline     string
	Snapshot       []byte // serialized PlayerInsightsSnapshot (internal/insights)
	Digest         string
	ComputedAt     time.Time
}

// InsightStore is the persistence capability the insight-snapshot builder
// (C8) depends on, split out from RatingStore since it is a derived
// read-model cache rather than authoritative rating state.
type InsightStore interface {
	UpsertInsightSnapshot(ctx context.Context, snap InsightSnapshot) error
	GetInsightSnapshot(ctx context.Context, organizationID, playerID, sport, discipline string) (InsightSnapshot, bool, error)
}
