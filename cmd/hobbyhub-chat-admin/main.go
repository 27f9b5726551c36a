package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/globals"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/types"
)

// A very simple CLI tool for the administration of hobbyhub-chat rooms, users and reports.

var (
	configPath string
	persister  persistence.Persister
)

func printJSON(what string, v interface{}) {
	r, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal "+what, "error", err)
		return
	}
	fmt.Println(string(r))
}

// readDefinition decodes a JSON definition given on the command line, or from STDIN if arg is "-".
func readDefinition(arg string, v interface{}) error {
	var r io.Reader
	if arg == "-" {
		r = os.Stdin
	} else {
		r = bytes.NewReader([]byte(arg))
	}
	return json.NewDecoder(r).Decode(v)
}

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:          "hobbyhub-chat-admin",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			globalConfig, err := config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
			persister, err = persistence.NewPersister(globalConfig)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if persister != nil {
				persister.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show topics, rooms, users, reports or messages",
		Long:  `show is for printing topic, room, user, report or message information.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Show: " + strings.Join(args, " "))
		},
	}
	var cmdShowTopics = &cobra.Command{
		Use:   "topics",
		Short: "Show topics",
		Long:  `show topics lists the hobby topics rooms are grouped by.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printJSON("topics", types.DefaultTopics())
		},
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms [topic id]",
		Short: "Show rooms",
		Long:  `show rooms lists all stored rooms, or the rooms of the given topic.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			topicId := ""
			if len(args) > 0 {
				topicId = args[0]
			}
			rooms, err := persister.GetRooms(topicId)
			if err != nil {
				globals.AppLogger.Error("could not get rooms", "error", err)
				return
			}
			printJSON("rooms", rooms)
		},
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints detail information about the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			err := persister.GetRoom(&room)
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON("room", room)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages [room id]",
		Short: "Show messages",
		Long:  `show messages prints the message log of the room with the given id, oldest first.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			msgs, err := persister.GetMessages(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get messages", "error", err)
				return
			}
			printJSON("messages", msgs)
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all registered users.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			users, err := persister.GetUsers()
			if err != nil {
				globals.AppLogger.Error("could not get users", "error", err)
				return
			}
			public := make([]types.User, len(users))
			for i, u := range users {
				public[i] = u.Public()
			}
			printJSON("users", public)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints detail information about the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			err := persister.GetUser(&user)
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON("user", user.Public())
		},
	}
	var cmdShowReports = &cobra.Command{
		Use:   "reports",
		Short: "Show reports",
		Long:  `show reports lists all submitted reports.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			reports, err := persister.GetReports()
			if err != nil {
				globals.AppLogger.Error("could not get reports", "error", err)
				return
			}
			printJSON("reports", reports)
		},
	}
	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete room or user",
		Long:  `delete removes the user or room with a given user/room id.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Delete: " + strings.Join(args, " "))
		},
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{Id: args[0]}
			err := persister.DeleteRoom(&room)
			if err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
				return
			}
		},
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Long:  `delete user removes the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{Id: args[0]}
			err := persister.DeleteUser(&user)
			if err != nil {
				globals.AppLogger.Error("could not delete user", "error", err)
				return
			}
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update room, user or report status",
		Long:  `set creates or updates a room or user, or changes the status of a report.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Set: " + strings.Join(args, " "))
		},
	}
	var cmdSetRoom = &cobra.Command{
		Use:   "room [room definition]",
		Short: "Set room",
		Long:  `set room creates or updates a room. If the room definition is "-", the definition is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			room := types.Room{}
			err := readDefinition(args[0], &room)
			if err != nil {
				globals.AppLogger.Error("could not decode room", "error", err)
				return
			}
			globals.AppLogger.Info("got room", "room", room)
			if room.Id == "" || room.TopicId == "" {
				globals.AppLogger.Error("room id and topic id are required")
				return
			}
			oldRoom := types.Room{Id: room.Id}
			err = persister.GetRoom(&oldRoom)
			if err != nil {
				globals.AppLogger.Info("room does not exist, creating")
			}
			if room.CreatedBy == "" {
				globals.AppLogger.Warn("no creator set")
			}
			err = persister.StoreRoom(room)
			if err != nil {
				globals.AppLogger.Error("could not store room", "error", err)
				return
			}
		},
	}
	var cmdSetUser = &cobra.Command{
		Use:   "user [user definition]",
		Short: "Set user",
		Long:  `set user creates or updates a user with the given definition. If the user definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user := types.User{}
			err := readDefinition(args[0], &user)
			if err != nil {
				globals.AppLogger.Error("could not decode user", "error", err)
				return
			}
			if user.Id == "" {
				globals.AppLogger.Error("no user id")
				return
			}
			old := types.User{Id: user.Id}
			if err := persister.GetUser(&old); err == nil && user.PasswordHash == "" {
				// keep the password
				user.PasswordHash = old.PasswordHash
			}
			globals.AppLogger.Info("got user", "user", user.Public())
			err = persister.StoreUser(user)
			if err != nil {
				globals.AppLogger.Error("could not store user", "error", err)
				return
			}
		},
	}
	var cmdSetReportStatus = &cobra.Command{
		Use:   "report-status [report id] [status]",
		Short: "Set report status",
		Long:  `set report-status moves a report to pending, investigating or resolved.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if !types.ValidReportStatus(args[1]) {
				globals.AppLogger.Error("invalid status", "status", args[1])
				return
			}
			report := types.Report{Id: args[0]}
			err := persister.GetReport(&report)
			if err != nil {
				globals.AppLogger.Error("could not get report", "error", err)
				return
			}
			report.Status = args[1]
			err = persister.StoreReport(report)
			if err != nil {
				globals.AppLogger.Error("could not store report", "error", err)
				return
			}
		},
	}
	rootCmd.AddCommand(cmdShow)
	rootCmd.AddCommand(cmdDelete)
	rootCmd.AddCommand(cmdSet)
	cmdShow.AddCommand(cmdShowTopics, cmdShowRooms, cmdShowRoom, cmdShowMessages, cmdShowUsers, cmdShowUser, cmdShowReports)
	cmdDelete.AddCommand(cmdDeleteRoom, cmdDeleteUser)
	cmdSet.AddCommand(cmdSetRoom, cmdSetUser, cmdSetReportStatus)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
