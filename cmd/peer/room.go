package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/spf13/cobra"
)

var (
	flagRoomTitle string
	flagRoomMax   int
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Create, inspect and delete rooms",
}

var roomCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a room and print its code",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newAPI().CreateRoom(cmd.Context(), flagRoomTitle, flagRoomMax)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Room created: %s\n", res.Code)
		fmt.Fprintf(out, "ID:           %s\n", res.RoomID)
		fmt.Fprintf(out, "\nJoin with: peer join %s\n", res.Code)
		return nil
	},
}

var roomInfoCmd = &cobra.Command{
	Use:   "info <room-id|code>",
	Short: "Show a room and its participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newAPI().GetRoom(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		renderRoom(cmd.OutOrStdout(), info)
		return nil
	},
}

var roomDeleteCmd = &cobra.Command{
	Use:   "delete <room-id|code>",
	Short: "End a room you own",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPI().DeleteRoom(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Room %s deleted\n", args[0])
		return nil
	},
}

func init() {
	roomCreateCmd.Flags().StringVarP(&flagRoomTitle, "title", "t", "", "room title")
	roomCreateCmd.Flags().IntVar(&flagRoomMax, "max", 0, "participant limit (server default when 0)")
	roomCmd.AddCommand(roomCreateCmd, roomInfoCmd, roomDeleteCmd)
}

func renderRoom(w io.Writer, info *models.RoomInfo) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleRounded)
	summary.SetTitle("Room %s", info.Code)
	summary.AppendRows([]table.Row{
		{"Title", info.Title},
		{"ID", info.ID},
		{"Status", info.Status},
		{"Participants", fmt.Sprintf("%d / %d", info.ActiveCount, info.MaxParticipants)},
		{"Created", info.CreatedAt.Local().Format(time.DateTime)},
	})
	summary.Render()

	if len(info.Participants) == 0 {
		return
	}
	people := table.NewWriter()
	people.SetOutputMirror(w)
	people.SetStyle(table.StyleRounded)
	people.AppendHeader(table.Row{"Name", "Role", "Joined", "Status"})
	for _, p := range info.Participants {
		status := "active"
		if !p.Active() {
			status = "left"
		}
		people.AppendRow(table.Row{p.DisplayName, p.Role, p.JoinedAt.Local().Format(time.TimeOnly), status})
	}
	people.Render()
}
