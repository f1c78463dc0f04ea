package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/swipematch/internal/canon"
	"github.com/roach88/swipematch/internal/model"
)

// NewRoomCommand creates the room command group.
func NewRoomCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Create and inspect rooms",
	}
	cmd.AddCommand(newRoomCreateCommand(rootOpts))
	cmd.AddCommand(newRoomShowCommand(rootOpts))
	cmd.AddCommand(newRoomStatusCommand(rootOpts))
	return cmd
}

func newRoomCreateCommand(opts *RootOptions) *cobra.Command {
	var members int64
	var status string

	cmd := &cobra.Command{
		Use:   "create <room-id>",
		Short: "Create a room",
		Example: `  swipematch room create R1 --members 2
  swipematch room create R1 --members 4 --status ACTIVE`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				room := model.Room{
					ID:          canon.Identifier(args[0]),
					MemberCount: members,
					Status:      model.RoomStatus(status),
				}
				if err := env.store.CreateRoom(cmd.Context(), room); err != nil {
					return roomError(env.out, "failed to create room", err)
				}
				created, err := env.store.GetRoom(cmd.Context(), room.ID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read room", err)
				}
				return env.out.Success(created, formatRoom(created))
			})
		},
	}
	cmd.Flags().Int64Var(&members, "members", 0, "number of members (required)")
	cmd.Flags().StringVar(&status, "status", string(model.RoomStatusWaiting), "initial status (WAITING|ACTIVE)")
	_ = cmd.MarkFlagRequired("members")
	return cmd
}

func newRoomShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room-id>",
		Short: "Show a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				room, err := env.store.GetRoom(cmd.Context(), canon.Identifier(args[0]))
				if err != nil {
					return roomError(env.out, "failed to read room", err)
				}
				return env.out.Success(room, formatRoom(room))
			})
		},
	}
}

func newRoomStatusCommand(opts *RootOptions) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "status <room-id> <status>",
		Short: "Move a room along an external status edge",
		Long: `Move a room along an external status edge.

Allowed edges: WAITING->ACTIVE, ACTIVE->PAUSED, PAUSED->ACTIVE, MATCHED->COMPLETED.
MATCHED is only ever set by a consensus match.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, cmd, func(env *appEnv) error {
				ctx := cmd.Context()
				roomID := canon.Identifier(args[0])
				to := model.RoomStatus(args[1])

				current := model.RoomStatus(from)
				if current == "" {
					room, err := env.store.GetRoom(ctx, roomID)
					if err != nil {
						return roomError(env.out, "failed to read room", err)
					}
					current = room.Status
				}

				applied, err := env.store.UpdateRoomStatus(ctx, roomID, current, to)
				if err != nil {
					return roomError(env.out, "failed to update status", err)
				}
				if !applied {
					msg := fmt.Sprintf("room %s is not in status %s", roomID, current)
					_ = env.out.Error(ErrCodeConflict, msg, nil)
					return NewExitError(ExitFailure, msg)
				}

				room, err := env.store.GetRoom(ctx, roomID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read room", err)
				}
				return env.out.Success(room, formatRoom(room))
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "expected current status (default: the room's status)")
	return cmd
}

func formatRoom(r model.Room) string {
	s := fmt.Sprintf("room %s: status=%s members=%d", r.ID, r.Status, r.MemberCount)
	if r.MatchedItemID != "" {
		s += " matched_item=" + r.MatchedItemID
	}
	return s
}

// roomError reports err through the formatter and returns an ExitError.
func roomError(out *OutputFormatter, message string, err error) error {
	code := ErrCodeGeneric
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		code = ErrCodeNotFound
	case model.IsValidationError(err):
		code = ErrCodeValidation
	case errors.Is(err, model.ErrRoomExists), errors.Is(err, model.ErrInvalidTransition):
		code = ErrCodeConflict
	}
	_ = out.Error(code, fmt.Sprintf("%s: %v", message, err), nil)
	return WrapExitError(ExitFailure, message, err)
}
