package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/engine"
	"github.com/roach88/swipematch/internal/model"
)

// voteResult is the JSON payload of the vote command.
type voteResult struct {
	RoomID        string               `json:"roomId"`
	ItemID        string               `json:"itemId"`
	UserID        string               `json:"userId"`
	VoteType      model.VoteType       `json:"voteType"`
	Outcome       engine.OutcomeStatus `json:"outcome"`
	PositiveCount int64                `json:"positiveCount"`
	MemberCount   int64                `json:"memberCount"`
	Matched       bool                 `json:"matched"`
}

// NewVoteCommand creates the vote command.
func NewVoteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <room-id> <item-id> <user-id> <POSITIVE|NEGATIVE|SKIP|UNDECIDED>",
		Short: "Process one vote immediately",
		Long: `Process one vote through dedup, counting and the consensus check.

Unlike the HTTP edge, this bypasses the change feed and runs the vote
processor inline, so the outcome is known when the command returns.`,
		Example: `  swipematch vote R1 M1 U1 POSITIVE
  swipematch vote R1 M1 U2 POSITIVE --format json`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(env *appEnv) error {
				out, err := env.processor.Process(cmd.Context(), model.Vote{
					RoomID: args[0],
					ItemID: args[1],
					UserID: args[2],
					Type:   model.VoteType(args[3]),
				})
				if err != nil {
					return roomError(env.out, "failed to process vote", err)
				}

				res := voteResult{
					RoomID:        out.Vote.RoomID,
					ItemID:        out.Vote.ItemID,
					UserID:        out.Vote.UserID,
					VoteType:      out.Vote.Type,
					Outcome:       out.Status,
					PositiveCount: out.PositiveCount,
					MemberCount:   out.MemberCount,
					Matched:       out.Matched(),
				}
				return env.out.Success(res, formatVote(res))
			})
		},
	}
}

func formatVote(r voteResult) string {
	s := fmt.Sprintf("vote %s/%s by %s: %s", r.RoomID, r.ItemID, r.UserID, r.Outcome)
	if r.MemberCount > 0 {
		s += fmt.Sprintf(" (%d/%d positive)", r.PositiveCount, r.MemberCount)
	}
	if r.Matched {
		s += " - room matched"
	}
	return s
}
